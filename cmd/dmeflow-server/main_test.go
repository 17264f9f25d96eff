package main

import "testing"

func TestCommandTree(t *testing.T) {
	migrate := migrateCmd()
	if migrate.Use != "migrate" {
		t.Errorf("migrate command use = %q", migrate.Use)
	}

	names := map[string]bool{}
	for _, sub := range migrate.Commands() {
		names[sub.Use] = true
	}
	for _, want := range []string{"up", "status"} {
		if !names[want] {
			t.Errorf("migrate is missing subcommand %q", want)
		}
	}

	if serveCmd().Use != "serve" {
		t.Error("serve command not constructed")
	}
}
