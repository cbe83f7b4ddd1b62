package version

import "testing"

func TestDefaultsAreInitialized(t *testing.T) {
	for name, value := range map[string]string{
		"Version":   Version,
		"BuildTime": BuildTime,
		"GitCommit": GitCommit,
	} {
		if value == "" {
			t.Errorf("%s should never be empty, ldflags or not", name)
		}
	}
}
