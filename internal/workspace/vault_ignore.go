package workspace

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/openmined/bucketsync/internal/utils"
	gitignore "github.com/sabhiram/go-gitignore"
)

const ignoreFileName = ".syncignore"

var defaultIgnoreLines = []string{
	// vault internals
	"/" + trashDir + "/",
	"/" + metadataDir + "/",
	"*" + tmpSuffix,
	// OS-specific
	".DS_Store",
	"Thumbs.db",
}

// IgnoreList decides which vault paths never take part in a sync.
type IgnoreList struct {
	baseDir string
	ignore  *gitignore.GitIgnore
}

func NewIgnoreList(baseDir string) *IgnoreList {
	return &IgnoreList{
		baseDir: baseDir,
		ignore:  gitignore.CompileIgnoreLines(defaultIgnoreLines...),
	}
}

// Load compiles the built-in rules plus the rules from the vault's .syncignore, if present.
func (s *IgnoreList) Load() {
	ignorePath := filepath.Join(s.baseDir, ignoreFileName)
	ignoreLines := append([]string(nil), defaultIgnoreLines...)

	if utils.FileExists(ignorePath) {
		file, err := os.Open(ignorePath)
		if err != nil {
			slog.Warn("ignore file open", "path", ignorePath, "error", err)
		} else {
			defer file.Close()

			rules := 0
			scanner := bufio.NewScanner(file)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" || strings.HasPrefix(line, "#") {
					continue
				}
				ignoreLines = append(ignoreLines, line)
				rules++
			}

			if err := scanner.Err(); err != nil {
				slog.Warn("ignore file read", "path", ignorePath, "error", err)
			} else {
				slog.Info("ignore file loaded", "path", ignorePath, "rules", rules)
			}
		}
	}

	s.ignore = gitignore.CompileIgnoreLines(ignoreLines...)
}

// ShouldIgnore matches a logical (forward slash, vault relative) path.
// Directories must be passed with a trailing slash.
func (s *IgnoreList) ShouldIgnore(logicalPath string) bool {
	return s.ignore.MatchesPath(logicalPath)
}
