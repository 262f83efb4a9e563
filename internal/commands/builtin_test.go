package commands

import (
	"context"
	"fmt"
	"testing"
)

type fakePlugins struct {
	names    []string
	active   []string
	toggled  string
	toggleOn string
}

func (f *fakePlugins) List() []string   { return f.names }
func (f *fakePlugins) Active() []string { return f.active }
func (f *fakePlugins) Toggle(action, name string) error {
	f.toggled, f.toggleOn = action, name
	return nil
}

type fakeTasks struct {
	items  []string
	killed string
}

func (f *fakeTasks) List() []string { return f.items }
func (f *fakeTasks) Kill(id string) error {
	if id == "missing" {
		return fmt.Errorf("no such task %s", id)
	}
	f.killed = id
	return nil
}

func requireBuiltins(t *testing.T, r *Registry, deps Dependencies) {
	t.Helper()
	RegisterBuiltins(r, deps)
}

func TestTitleCase(t *testing.T) {
	tests := []struct{ input, expected string }{
		{"", ""},
		{"hello", "Hello"},
		{"HELLO", "HELLO"},
		{"h", "H"},
	}
	for _, tt := range tests {
		if got := titleCase(tt.input); got != tt.expected {
			t.Errorf("titleCase(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestRegisterBuiltins_RegistersSpecSurface(t *testing.T) {
	r := NewRegistry(nil)
	requireBuiltins(t, r, Dependencies{})

	expected := []string{"help", "model", "plugin", "task", "project", "clear", "compact", "debug", "agent"}
	for _, name := range expected {
		if _, found := r.Get(name); !found {
			t.Errorf("builtin command %q not registered", name)
		}
	}
}

func TestModelHandler_GetAndSet(t *testing.T) {
	var setTo string
	deps := Dependencies{
		CurrentModel: func() string { return "qwen2.5-coder" },
		SetModel:     func(name string) error { setTo = name; return nil },
	}
	r := NewRegistry(nil)
	requireBuiltins(t, r, deps)

	res, err := r.Execute(context.Background(), &Invocation{Name: "model"})
	if err != nil || res.Text != "Current model: qwen2.5-coder" {
		t.Fatalf("unexpected result: %+v err=%v", res, err)
	}

	res, err = r.Execute(context.Background(), &Invocation{Name: "model", Args: "llama3"})
	if err != nil || setTo != "llama3" {
		t.Fatalf("expected SetModel to be called with llama3, got %q err=%v", setTo, err)
	}
	_ = res
}

func TestPluginHandler_ListAndToggle(t *testing.T) {
	fp := &fakePlugins{names: []string{"linter"}, active: []string{"linter"}}
	r := NewRegistry(nil)
	requireBuiltins(t, r, Dependencies{Plugins: fp})

	res, err := r.Execute(context.Background(), &Invocation{Name: "plugin", Args: "list"})
	if err != nil || res.Text == "" {
		t.Fatalf("expected plugin list text, got %+v err=%v", res, err)
	}

	_, err = r.Execute(context.Background(), &Invocation{Name: "plugin", Args: "deactivate linter"})
	if err != nil || fp.toggled != "deactivate" || fp.toggleOn != "linter" {
		t.Fatalf("expected deactivate linter to be forwarded, got %+v", fp)
	}
}

func TestTaskHandler_KillUnknownReturnsError(t *testing.T) {
	ft := &fakeTasks{}
	r := NewRegistry(nil)
	requireBuiltins(t, r, Dependencies{Tasks: ft})

	res, err := r.Execute(context.Background(), &Invocation{Name: "task", Args: "kill missing"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Error == "" {
		t.Fatal("expected an error result for killing an unknown task")
	}
}

func TestTaskHandler_KillKnownSucceeds(t *testing.T) {
	ft := &fakeTasks{}
	r := NewRegistry(nil)
	requireBuiltins(t, r, Dependencies{Tasks: ft})

	res, err := r.Execute(context.Background(), &Invocation{Name: "task", Args: "kill shell-1"})
	if err != nil || res.Error != "" {
		t.Fatalf("unexpected failure: %+v err=%v", res, err)
	}
	if ft.killed != "shell-1" {
		t.Fatalf("expected shell-1 to be killed, got %q", ft.killed)
	}
}

func TestHelpHandler_UnknownCommand(t *testing.T) {
	r := NewRegistry(nil)
	requireBuiltins(t, r, Dependencies{})

	res, err := r.Execute(context.Background(), &Invocation{Name: "help", Args: "nonexistent"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text == "" {
		t.Fatal("expected help text for an unknown command")
	}
}
