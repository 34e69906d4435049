package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/ShayCichocki/friday/internal/tui"
)

// runWithTUI runs fn behind the live run view.
func runWithTUI(ctx context.Context, cancel context.CancelFunc, s *session, fn runFunc) (retErr error) {
	// Suppress log output while TUI is active (it corrupts the display)
	originalOutput := log.Writer()
	log.SetOutput(io.Discard)
	defer log.SetOutput(originalOutput)

	// Recover from panics
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("PANIC in runWithTUI: %v", r)
		}
	}()

	program, _ := tui.NewRunProgram(s.orch.PauseController(), cancel)

	go tui.Forward(program, s.orch.Events())

	runDone := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("PANIC in orchestrator: %v", r)
				program.Send(tui.DoneMsg{Err: err})
				runDone <- err
			}
		}()
		res, err := fn(ctx)
		program.Send(tui.DoneMsg{Result: res, Err: err})
		runDone <- err
	}()

	// The view stays up after the run ends until the user quits.
	if _, err := program.Run(); err != nil {
		cancel()
		return fmt.Errorf("run TUI: %w", err)
	}

	// Quitting early cancels the run; wait for it to wind down and checkpoint.
	err := <-runDone
	if err != nil {
		fmt.Fprintf(os.Stderr, "Run failed: %v\n", err)
		return err
	}
	fmt.Println("Run complete.")
	return nil
}
