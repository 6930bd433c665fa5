package github

import (
	"errors"
	"strings"
	"testing"
)

func TestRealCommandRunner_Run(t *testing.T) {
	runner := &RealCommandRunner{}

	output, err := runner.Run("echo", "hello")
	if err != nil {
		t.Errorf("Run() unexpected error: %v", err)
	}
	if !strings.Contains(string(output), "hello") {
		t.Errorf("Run() output = %q, want to contain 'hello'", string(output))
	}
}

func TestRealCommandRunner_Env(t *testing.T) {
	runner := &RealCommandRunner{Env: []string{"PMSYNC_TEST_VAR=from-runner"}}

	output, err := runner.Run("sh", "-c", "echo $PMSYNC_TEST_VAR")
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	if strings.TrimSpace(string(output)) != "from-runner" {
		t.Errorf("Run() output = %q, want from-runner", string(output))
	}
}

func TestRealCommandRunner_RunInDir(t *testing.T) {
	runner := &RealCommandRunner{}
	dir := t.TempDir()

	output, err := runner.RunInDir(dir, "pwd")
	if err != nil {
		t.Errorf("RunInDir() unexpected error: %v", err)
	}
	if !strings.Contains(string(output), dir) {
		t.Errorf("RunInDir() output = %q, want %s", string(output), dir)
	}
}

func TestRealCommandRunner_RunError(t *testing.T) {
	runner := &RealCommandRunner{}

	if _, err := runner.Run("nonexistent-command-xyz"); err == nil {
		t.Error("Run() should return error for nonexistent command")
	}
	if _, err := runner.RunInDir(t.TempDir(), "nonexistent-command-xyz"); err == nil {
		t.Error("RunInDir() should return error for nonexistent command")
	}
}

func TestMockCommandRunner_Run(t *testing.T) {
	tests := []struct {
		name       string
		setupMock  func(*MockCommandRunner)
		wantOutput string
		wantErr    bool
	}{
		{
			name:       "default behavior (no func set)",
			setupMock:  func(m *MockCommandRunner) {},
			wantOutput: "",
		},
		{
			name: "custom function returns output",
			setupMock: func(m *MockCommandRunner) {
				m.RunFunc = func(name string, args ...string) ([]byte, error) {
					return []byte("custom output"), nil
				}
			},
			wantOutput: "custom output",
		},
		{
			name: "custom function returns error",
			setupMock: func(m *MockCommandRunner) {
				m.RunFunc = func(name string, args ...string) ([]byte, error) {
					return nil, errors.New("boom")
				}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockCommandRunner()
			tt.setupMock(mock)

			output, err := mock.Run("gh", "api", "repos/owner/repo/issues")
			if (err != nil) != tt.wantErr {
				t.Errorf("Run() error = %v, wantErr %v", err, tt.wantErr)
			}
			if string(output) != tt.wantOutput {
				t.Errorf("Run() output = %q, want %q", string(output), tt.wantOutput)
			}
			if len(mock.Calls) != 1 || mock.Calls[0].Name != "gh" || len(mock.Calls[0].Args) != 2 {
				t.Errorf("Calls = %+v", mock.Calls)
			}
		})
	}
}

func TestMockCommandRunner_CallTracking(t *testing.T) {
	mock := NewMockCommandRunner()

	_, _ = mock.Run("cmd1", "arg1")
	_, _ = mock.RunInDir("/dir1", "cmd2", "arg2", "arg3")

	if len(mock.Calls) != 2 {
		t.Fatalf("Expected 2 calls, got %d", len(mock.Calls))
	}
	if mock.Calls[1].Dir != "/dir1" {
		t.Errorf("Call[1] dir = %s, want /dir1", mock.Calls[1].Dir)
	}
	if len(mock.Calls[1].Args) != 2 {
		t.Errorf("Call[1] args length = %d, want 2", len(mock.Calls[1].Args))
	}
}
