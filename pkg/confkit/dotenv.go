package confkit

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/joho/godotenv"
)

var dotenvOnce sync.Once

// LoadDotenvOnce loads environment variables from a .env file found next
// to the config or anywhere up to the repository root. The first call
// wins; later calls are no-ops. Existing variables are kept unless
// DOTENV_OVERLOAD=1; NO_DOTENV=1 disables loading entirely.
func LoadDotenvOnce() {
	dotenvOnce.Do(loadDotenv)
}

func loadDotenv() {
	if os.Getenv("NO_DOTENV") == "1" {
		return
	}

	load := godotenv.Load
	if os.Getenv("DOTENV_OVERLOAD") == "1" {
		load = godotenv.Overload
	}

	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		_ = load(envFile)
		return
	}

	if _, file, _, ok := runtime.Caller(0); ok {
		dir := filepath.Dir(file)
		for i := 0; i < 8; i++ {
			_ = load(filepath.Join(dir, ".env"))
			if fileExists(filepath.Join(dir, "go.mod")) || fileExists(filepath.Join(dir, ".git")) {
				return
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
		return
	}

	_ = load(".env")
}

func fileExists(p string) bool {
	if p == "" {
		return false
	}
	_, err := os.Stat(p)
	return err == nil
}
