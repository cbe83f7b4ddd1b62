package quotaops

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
)

type recordedCommand struct {
	name string
	args []string
}

func captureBackend() (*ExecBackend, *[]recordedCommand) {
	var commands []recordedCommand
	b := NewExecBackend(slog.New(slog.NewTextHandler(io.Discard, nil)))
	b.run = func(ctx context.Context, name string, args ...string) (string, string, error) {
		commands = append(commands, recordedCommand{name: name, args: args})
		return "", "", nil
	}
	return b, &commands
}

func TestTagPathCommand(t *testing.T) {
	b, commands := captureBackend()

	if err := b.TagPath(context.Background(), "/data/labA", 200000); err != nil {
		t.Fatal(err)
	}

	got := (*commands)[0]
	if got.name != "chattr" {
		t.Fatalf("expected chattr, got %s", got.name)
	}
	if strings.Join(got.args, " ") != "-p 200000 /data/labA" {
		t.Fatalf("unexpected args: %v", got.args)
	}
}

func TestInheritanceCommands(t *testing.T) {
	b, commands := captureBackend()

	if err := b.EnableInheritance(context.Background(), "/data/labA"); err != nil {
		t.Fatal(err)
	}
	if err := b.DisableInheritance(context.Background(), "/data/labA"); err != nil {
		t.Fatal(err)
	}

	if strings.Join((*commands)[0].args, " ") != "+P /data/labA" {
		t.Fatalf("unexpected enable args: %v", (*commands)[0].args)
	}
	if strings.Join((*commands)[1].args, " ") != "-P /data/labA" {
		t.Fatalf("unexpected disable args: %v", (*commands)[1].args)
	}
}

func TestSetLimitsIsOneOverwritingCall(t *testing.T) {
	b, commands := captureBackend()

	if err := b.SetLimits(context.Background(), "/OMERO", 200000, 2621440); err != nil {
		t.Fatal(err)
	}

	if len(*commands) != 1 {
		t.Fatalf("SetLimits must issue exactly one command, got %d", len(*commands))
	}
	got := (*commands)[0]
	if got.name != "setquota" {
		t.Fatalf("expected setquota, got %s", got.name)
	}
	// soft and hard block limits carry the same value, inode limits stay 0
	if strings.Join(got.args, " ") != "-P 200000 2621440 2621440 0 0 /OMERO" {
		t.Fatalf("unexpected args: %v", got.args)
	}
}

func TestClearLimitsCommand(t *testing.T) {
	b, commands := captureBackend()

	if err := b.ClearLimits(context.Background(), "/OMERO", 200000); err != nil {
		t.Fatal(err)
	}

	if strings.Join((*commands)[0].args, " ") != "-P 200000 0 0 0 0 /OMERO" {
		t.Fatalf("unexpected args: %v", (*commands)[0].args)
	}
}

func TestBlocksForGB(t *testing.T) {
	cases := []struct {
		gb     float64
		blocks uint64
	}{
		{1.0, 1048576},
		{2.5, 2621440},
		{0.10, 104857},
		{10, 10485760},
	}
	for _, tc := range cases {
		if got := BlocksForGB(tc.gb); got != tc.blocks {
			t.Fatalf("BlocksForGB(%g) = %d, want %d", tc.gb, got, tc.blocks)
		}
	}
}

func TestFakeRecordsAndInjects(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	if err := f.TagPath(ctx, "/data/labA", 200000); err != nil {
		t.Fatal(err)
	}
	if err := f.SetLimits(ctx, "/OMERO", 200000, 2621440); err != nil {
		t.Fatal(err)
	}

	if blocks, ok := f.Limit(200000); !ok || blocks != 2621440 {
		t.Fatalf("expected limit 2621440, got %d (ok=%v)", blocks, ok)
	}
	if id, ok := f.Tag("/data/labA"); !ok || id != 200000 {
		t.Fatalf("expected tag 200000, got %d (ok=%v)", id, ok)
	}

	f.FailOn = func(c Call) error {
		if c.Op == OpClearLimits {
			return context.DeadlineExceeded
		}
		return nil
	}
	if err := f.ClearLimits(ctx, "/OMERO", 200000); err == nil {
		t.Fatal("expected injected failure")
	}
	// Failed clear must not mutate tracked state.
	if _, ok := f.Limit(200000); !ok {
		t.Fatal("limit should survive a failed clear")
	}
}
