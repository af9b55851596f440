package moderation

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

const replacementChar = '*'

// Matching ignores spaces and punctuation, so multi word entries such as
// "wire transfer" match across the gap and are masked with it.
func TestModerator_Censor(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	dictionary := []string{"scam", "idiot", "wire transfer"}
	mod, err := NewModerator(dictionary, replacementChar, log)
	req.NoError(err)

	tests := []struct {
		name     string
		input    string
		expected string
		words    []string
	}{
		{
			name:     "Single word keeps the surrounding text",
			input:    "This is a scam",
			expected: "This is a ****",
			words:    []string{"scam"},
		},
		{
			name:     "Repeated word",
			input:    "scam scam",
			expected: "**** ****",
			words:    []string{"scam", "scam"},
		},
		{
			name:     "Multi word entry masks the inner space",
			input:    "Pay by wire transfer please",
			expected: "Pay by ************* please",
			words:    []string{"wiretransfer"},
		},
		{
			name:     "Leet speak",
			input:    "Y0u 1d10t",
			expected: "Y0u *****",
			words:    []string{"idiot"},
		},
		{
			name:     "Uppercase with punctuation noise",
			input:    "S.C.A.M alert",
			expected: "******* alert",
			words:    []string{"scam"},
		},
		{
			name:     "Leet lookalikes that spell nothing",
			input:    "Price is 50$ firm",
			expected: "Price is 50$ firm",
			words:    nil,
		},
		{
			name:     "Empty string",
			input:    "",
			expected: "",
			words:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, words := mod.Censor(tt.input)
			req.Equal(tt.expected, content)
			req.Equal(tt.words, words)
		})
	}
}

func TestModerator_CornerCases(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	// Given a list where some entries are only punctuation
	mod, err := NewModerator([]string{"...", ",,,", "", "scam"}, replacementChar, log)
	req.NoError(err)

	// When a message mixes a real word and punctuation
	content, words := mod.Censor("Total scam...")

	// Then only the real word is masked
	req.Equal("Total ****...", content)
	req.Equal([]string{"scam"}, words)

	// And punctuation alone never matches
	content, words = mod.Censor("Hello ...")
	req.Equal("Hello ...", content)
	req.Nil(words)
}

func TestModerator_Empty_List_Is_Passthrough(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	mod, err := NewModerator(nil, replacementChar, log)
	req.NoError(err)

	content, words := mod.Censor("Is it still available?")
	req.Equal("Is it still available?", content)
	req.Nil(words)
}

func TestLoadWords(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "words.yaml")
	req.NoError(os.WriteFile(path, []byte("words:\n  - scam\n  - wire transfer\n"), 0o600))

	words, err := LoadWords(path)
	req.NoError(err)
	req.Equal([]string{"scam", "wire transfer"}, words)

	words, err = LoadWords("")
	req.NoError(err)
	req.Nil(words)

	_, err = LoadWords(filepath.Join(t.TempDir(), "missing.yaml"))
	req.Error(err)
}
