// Package tui provides the terminal view for friday's run command.
//
// The view is read-only apart from two controls: 'p' toggles pause (no new
// nodes are dispatched while paused) and 'q' or Ctrl+C cancels the run. It
// shows:
//   - Every node seen so far with its type, status, attempt and score
//   - Status counts and elapsed time
//   - An activity log of recent orchestrator events
//   - The final outcome once the run is done
//
// Usage:
//
//	program, app := tui.NewRunProgram(orch.PauseController(), cancel)
//	go tui.Forward(program, orch.Events())
//	go func() {
//	    res, err := orch.RunTask(ctx, task, env)
//	    program.Send(tui.DoneMsg{Result: res, Err: err})
//	}()
//	program.Run()
package tui
