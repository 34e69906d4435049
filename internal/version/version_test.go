package version

import "testing"

func TestGet(t *testing.T) {
	orig := version
	defer func() { version = orig }()

	version = " v1.2.3\n"
	if got := Get(); got != "v1.2.3" {
		t.Errorf("Get() = %q, want v1.2.3", got)
	}

	version = ""
	if Get() == "" {
		t.Error("Get() must never be empty")
	}
}
