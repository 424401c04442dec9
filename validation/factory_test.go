package validation

import (
	"testing"

	"github.com/shelfhelp/shelfhelp-ai/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidatorDispatch(t *testing.T) {
	tests := []struct {
		service string
		want    Kind
	}{
		{"ku", KindKindleUnlimited},
		{"kindle_unlimited", KindKindleUnlimited},
		{"KU", KindKindleUnlimited},
		{" Hoopla ", KindHoopla},
		{"library", KindLibrary},
		{"public_library", KindLibrary},
		{"nonsense", KindGeneric},
		{"", KindGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.service, func(t *testing.T) {
			assert.Equal(t, tt.want, NewValidator(tt.service, Options{}).Kind())
		})
	}
}

func TestSuiteValidateUnknownService(t *testing.T) {
	suite := NewSuite([]string{"kindle_unlimited", "hoopla", "library"}, Options{})

	_, err := suite.Validate("nonsense", &models.AvailabilityResult{Available: models.Bool(true)}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownService)

	vr, err := suite.Validate("Hoopla", &models.AvailabilityResult{Available: models.Bool(false), Confidence: 0.4}, nil)
	require.NoError(t, err)
	assert.True(t, vr.Valid)
}

func TestSuiteServicesDeduplicated(t *testing.T) {
	suite := NewSuite([]string{"hoopla", "HOOPLA", "library"}, Options{})
	assert.Equal(t, []string{"hoopla", "library"}, suite.Services())
}

func TestSuiteValidateAll(t *testing.T) {
	suite := NewSuite([]string{"kindle_unlimited", "hoopla", "library"}, Options{})
	book := &models.Book{Title: "Beach Read", AuthorName: "Emily Henry"}
	results := map[string]*models.AvailabilityResult{
		"kindle_unlimited": {Available: models.Bool(true), Confidence: 0.6, Details: "Included with Kindle Unlimited"},
		"hoopla":           {Confidence: 0.5},
	}

	validated, report, err := suite.ValidateAll(results, book)
	require.NoError(t, err)
	require.Len(t, validated, 2)
	assert.True(t, validated["kindle_unlimited"].Valid)
	assert.False(t, validated["hoopla"].Valid)

	assert.Equal(t, 2, report.Summary.Total)
	assert.Equal(t, 1, report.Summary.Valid)
	assert.Equal(t, 1, report.Summary.Invalid)
	assert.Equal(t, 0.8, report.Summary.OverallConfidence)
	assert.Equal(t, "50.0", report.Summary.ValidationRate)
	assert.Contains(t, report.Errors, "Missing availability status")

	stats := suite.Stats()
	assert.Equal(t, 1, stats["kindle_unlimited"].Validations)
	assert.Equal(t, 1, stats["hoopla"].Validations)
	assert.Equal(t, 0, stats["library"].Validations)

	suite.ResetStats()
	assert.Equal(t, Stats{}, suite.Stats()["kindle_unlimited"])
}

func TestSuiteValidateAllRejectsUnregistered(t *testing.T) {
	suite := NewSuite([]string{"hoopla"}, Options{})
	_, _, err := suite.ValidateAll(map[string]*models.AvailabilityResult{"libby": {}}, nil)
	assert.ErrorIs(t, err, ErrUnknownService)
}

func TestGenerateReport(t *testing.T) {
	valid := &models.ValidationResult{Valid: true, AdjustedConfidence: 0.8, Factors: []models.Factor{boost(0.2)}}
	invalid := &models.ValidationResult{Valid: false, AdjustedConfidence: 0.3, Errors: []string{"Missing availability status"}}
	another := &models.ValidationResult{Valid: true, AdjustedConfidence: 0.5, Warnings: []string{"w"}}

	tests := []struct {
		name        string
		results     []*models.ValidationResult
		wantRate    string
		wantOverall float64
		wantTotal   int
	}{
		{name: "empty", results: nil, wantRate: "0.0", wantOverall: 0, wantTotal: 0},
		{name: "half valid", results: []*models.ValidationResult{valid, invalid}, wantRate: "50.0", wantOverall: 0.8, wantTotal: 2},
		{name: "two of three", results: []*models.ValidationResult{valid, invalid, another}, wantRate: "66.7", wantOverall: 0.65, wantTotal: 3},
		{name: "nil skipped", results: []*models.ValidationResult{nil, valid}, wantRate: "100.0", wantOverall: 0.8, wantTotal: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := GenerateReport(tt.results)
			assert.Equal(t, tt.wantRate, report.Summary.ValidationRate)
			assert.Equal(t, tt.wantOverall, report.Summary.OverallConfidence)
			assert.Equal(t, tt.wantTotal, report.Summary.Total)
			assert.NotNil(t, report.Factors)
			assert.NotNil(t, report.Warnings)
			assert.NotNil(t, report.Errors)
		})
	}
}

func TestCrossValidate(t *testing.T) {
	tests := []struct {
		name        string
		claims      []Claim
		want        []float64
		wantEngaged bool
		wantCross   bool
		wantWarning bool
	}{
		{name: "single claim untouched", claims: []Claim{{"hoopla", 0.7}}, want: []float64{0.7}},
		{name: "consensus raises", claims: []Claim{{"kindle_unlimited", 0.8}, {"hoopla", 0.7}}, want: []float64{0.88, 0.77}, wantEngaged: true, wantCross: true},
		{name: "consensus ceiling", claims: []Claim{{"kindle_unlimited", 0.9}, {"hoopla", 0.95}}, want: []float64{0.95, 0.95}, wantEngaged: true, wantCross: true},
		{name: "dissent lowers", claims: []Claim{{"kindle_unlimited", 0.5}, {"hoopla", 0.4}}, want: []float64{0.4, 0.32}, wantEngaged: true, wantWarning: true},
		{name: "dissent floor", claims: []Claim{{"kindle_unlimited", 0.09}, {"hoopla", 0.2}}, want: []float64{0.1, 0.16}, wantEngaged: true, wantWarning: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cv := CrossValidate(tt.claims)
			assert.Equal(t, tt.wantEngaged, cv.Engaged)
			require.Len(t, cv.Claims, len(tt.want))
			for i, c := range cv.Claims {
				assert.Equal(t, tt.claims[i].Service, c.Service)
				assert.Equal(t, tt.claims[i].Confidence, c.Original)
				assert.Equal(t, tt.want[i], c.Adjusted)
				assert.Equal(t, tt.wantCross, c.CrossValidated)
				assert.Equal(t, tt.wantWarning, c.Warning != "")
				assert.GreaterOrEqual(t, c.Adjusted, 0.0)
				assert.LessOrEqual(t, c.Adjusted, 1.0)
			}
		})
	}
}

func TestCrossValidateWarningText(t *testing.T) {
	cv := CrossValidate([]Claim{{"kindle_unlimited", 0.5}, {"hoopla", 0.4}, {"library", 0.3}})
	require.Len(t, cv.Claims, 3)
	assert.Equal(t, "Low consensus across 3 services (mean confidence 0.40)", cv.Claims[0].Warning)
	assert.Equal(t, 0.4, cv.Consensus)
}
