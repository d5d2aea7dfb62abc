package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	info := Get()

	if info.Version != Version {
		t.Errorf("Version = %q, want %q", info.Version, Version)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q, want %q", info.GoVersion, runtime.Version())
	}
	if info.Commit == "" || info.BuildTime == "" {
		t.Errorf("Get() left empty fields: %+v", info)
	}
}

func TestGet_LdflagsWin(t *testing.T) {
	oldCommit, oldTime := Commit, BuildTime
	defer func() { Commit, BuildTime = oldCommit, oldTime }()

	Commit = "abc1234"
	BuildTime = "2024-05-01T12:00:00Z"

	info := Get()
	if info.Commit != "abc1234" {
		t.Errorf("Commit = %q, want abc1234", info.Commit)
	}
	if info.BuildTime != "2024-05-01T12:00:00Z" {
		t.Errorf("BuildTime = %q, want 2024-05-01T12:00:00Z", info.BuildTime)
	}
}

func TestInfo_String(t *testing.T) {
	info := Info{Version: "1.2.0", Commit: "abc1234", BuildTime: "now", GoVersion: "go1.24", Modified: true}
	want := "1.2.0 (abc1234-dirty) built now with go1.24"
	if got := info.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if !strings.Contains((Info{Version: "dev"}).withUnknowns().String(), "(unknown)") {
		t.Error("withUnknowns should fill the commit")
	}
}

func TestShortRevision(t *testing.T) {
	if got := shortRevision("0123456789abcdef0123"); got != "0123456789ab" {
		t.Errorf("shortRevision() = %q", got)
	}
	if got := shortRevision("abc"); got != "abc" {
		t.Errorf("shortRevision() = %q, want abc", got)
	}
}
