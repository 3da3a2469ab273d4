package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigParams_Validate(t *testing.T) {
	tests := []struct {
		name   string
		params ConfigParams
		fields []string
	}{
		{
			name:   "valid",
			params: ConfigParams{SimilarityThreshold: 0.78, MaxChunks: 5, UseTopChunks: 3},
		},
		{
			name:   "threshold of one is allowed",
			params: ConfigParams{SimilarityThreshold: 1, MaxChunks: 1, UseTopChunks: 1},
		},
		{
			name:   "zero threshold",
			params: ConfigParams{SimilarityThreshold: 0, MaxChunks: 5, UseTopChunks: 3},
			fields: []string{"SimilarityThreshold"},
		},
		{
			name:   "threshold above one",
			params: ConfigParams{SimilarityThreshold: 1.2, MaxChunks: 5, UseTopChunks: 3},
			fields: []string{"SimilarityThreshold"},
		},
		{
			name:   "use top exceeds max",
			params: ConfigParams{SimilarityThreshold: 0.5, MaxChunks: 2, UseTopChunks: 3},
			fields: []string{"UseTopChunks"},
		},
		{
			name:   "no chunks",
			params: ConfigParams{SimilarityThreshold: 0.5, MaxChunks: 0, UseTopChunks: 0},
			fields: []string{"MaxChunks", "UseTopChunks"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(&tt.params)
			if len(tt.fields) == 0 {
				assert.Empty(t, errs)
				return
			}
			for _, f := range tt.fields {
				assert.Contains(t, errs, f)
			}
		})
	}
}

func TestQueryParams_Validate(t *testing.T) {
	assert.Contains(t, Validate(&QueryParams{}), "Prompt")
	assert.Empty(t, Validate(&QueryParams{Prompt: "how do I sleep better?"}))
	assert.Contains(t, Validate(&RetrieveParams{}), "Query")
}

func TestRetrievalConfig_Normalize(t *testing.T) {
	cfg := RetrievalConfig{SimilarityThreshold: 0.6, MaxChunks: 2, UseTopChunks: 7}.Normalize()
	assert.Equal(t, 2, cfg.UseTopChunks)
	assert.Equal(t, 0.6, cfg.SimilarityThreshold)

	cfg = RetrievalConfig{}.Normalize()
	assert.Equal(t, DefaultRetrievalConfig(), cfg)
}

func TestValidateRetrievalConfig(t *testing.T) {
	require.NoError(t, ValidateRetrievalConfig(DefaultRetrievalConfig()))

	err := ValidateRetrievalConfig(RetrievalConfig{SimilarityThreshold: 2, MaxChunks: 1, UseTopChunks: 1})
	var verr ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Errors, "SimilarityThreshold")
}

func TestParseFileType(t *testing.T) {
	for in, want := range map[string]FileType{
		"pdf": FilePDF, ".md": FileMarkdown, "text/plain": FileText, "markdown": FileMarkdown,
	} {
		got, ok := ParseFileType(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseFileType("docx")
	assert.False(t, ok)
}
