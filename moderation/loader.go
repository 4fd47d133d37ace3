package moderation

import (
	"bufio"
	"bytes"
	"chat-core/errors"
	"embed"
	"io/fs"
	"strings"
)

//go:embed wordlists/*
var wordlistsFS embed.FS

// WordData carries the loaded word list plus metadata for startup logging.
type WordData struct {
	Words     []string
	Languages []string
}

// LoadWordlists reads the embedded per-language dictionaries. Each .txt
// file is one language ("en.txt" -> "en"); lines are deduplicated across
// files.
func LoadWordlists() (*WordData, error) {
	return loadFrom(wordlistsFS, "wordlists")
}

func loadFrom(fsys fs.FS, path string) (*WordData, error) {
	entries, err := fs.ReadDir(fsys, path)
	if err != nil {
		return nil, err
	}

	var languages []string
	uniqueWords := make(map[string]struct{})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		languages = append(languages, strings.TrimSuffix(entry.Name(), ".txt"))

		data, err := fs.ReadFile(fsys, path+"/"+entry.Name())
		if err != nil {
			return nil, err
		}

		// A scanner handles both \n and \r\n line endings
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" {
				uniqueWords[line] = struct{}{}
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	}

	if len(uniqueWords) == 0 {
		return nil, errors.ErrEmptyWords
	}

	words := make([]string, 0, len(uniqueWords))
	for w := range uniqueWords {
		words = append(words, w)
	}

	return &WordData{Words: words, Languages: languages}, nil
}
