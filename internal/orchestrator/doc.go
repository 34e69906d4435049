// Package orchestrator runs a task end to end.
//
// The orchestrator wires the components together:
//
//	decompose -> graph -> scheduler -> sandbox -> judge -> classify -> repair
//
// RunTask decomposes a natural-language task into a graph, then repeatedly
// dispatches the full ready frontier, bounded by the concurrency limit. Each
// dispatched node gets code (from the skill cache or freshly generated), runs
// in the sandbox and is judged. Successful nodes expose their return value to
// dependents and may be admitted to the skill cache. Failed nodes are
// classified and repaired by amending their code or by splicing new upstream
// nodes into the graph. The run ends when every node has succeeded, a node
// fails fatally, the context is cancelled or no node can make progress.
//
// Example usage:
//
//	o, err := orchestrator.New(orchestrator.RequiredConfig{
//		Generator: gen,
//		Sandbox:   exec.NewSandbox(),
//	}, orchestrator.WithMaxConcurrency(4))
//	if err != nil {
//		return err
//	}
//	defer o.Close()
//	result, err := o.RunTask(ctx, "zip every report in ~/reports", env)
package orchestrator
