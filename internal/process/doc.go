// Package process runs subprocesses such as ffmpeg.
//
// Process wraps os/exec: stdin and stdout can be wired to the caller, stderr
// is logged through a LogParser, and cancellation sends SIGINT before
// killing the process group.
//
// Pool keeps one Process per ID with state tracking, optional restarts and
// a Configurer hook that runs before every start:
//
//	pool := process.NewPool(&process.PoolOptions{
//		CommandProvider:  func(id string) (string, error) { return decodeCommand(id), nil },
//		ConfigureProcess: func(id string, p *process.Process) { p.SetStdin(feeds[id]) },
//	})
//	pool.Start(sessionID)
//	defer pool.StopAll()
package process
