// Package externalcmd runs a shell command in reaction to a muxer event
// (segment rotation, write failure) and restarts it on request.
package externalcmd

import (
	"strings"
	"sync"

	"github.com/kballard/go-shellquote"
)

// Environment is the set of environment variables substituted into a hook
// command template before it is handed to the shell.
type Environment struct {
	SegmentURL      string
	SegmentDuration string
	Discontinuous   string
}

// substitute replaces $TSMUX_* placeholders in cmdstr with shell-quoted
// values from env, so a segment filename containing spaces or shell
// metacharacters cannot be used to inject additional commands.
func substitute(cmdstr string, env Environment) string {
	repl := strings.NewReplacer(
		"$TSMUX_SEGMENT_URL", shellquote.Join(env.SegmentURL),
		"$TSMUX_SEGMENT_DURATION", shellquote.Join(env.SegmentDuration),
		"$TSMUX_DISCONTINUOUS", shellquote.Join(env.Discontinuous),
	)
	return repl.Replace(cmdstr)
}

// Cmd is a single external-command invocation, restartable.
type Cmd struct {
	cmdstr    string
	restart   bool
	env       Environment
	onExit    func(error)
	terminate chan struct{}
	done      chan struct{}
}

// Pool tracks all running Cmds so they can be stopped together.
type Pool struct {
	mutex sync.Mutex
	wg    sync.WaitGroup
	cmds  map[*Cmd]struct{}
}

// NewPool allocates a Pool.
func NewPool() *Pool {
	return &Pool{cmds: make(map[*Cmd]struct{})}
}

// Close stops every Cmd in the pool and waits for them to exit.
func (p *Pool) Close() {
	p.mutex.Lock()
	cmds := make([]*Cmd, 0, len(p.cmds))
	for c := range p.cmds {
		cmds = append(cmds, c)
	}
	p.mutex.Unlock()

	for _, c := range cmds {
		c.Close()
	}

	p.wg.Wait()
}

// NewCmd starts cmdstr (after placeholder substitution) as a shell
// command. If restart is true, the command is relaunched every time it
// exits until Close is called.
func (p *Pool) NewCmd(cmdstr string, restart bool, env Environment, onExit func(error)) *Cmd {
	c := &Cmd{
		cmdstr:    substitute(cmdstr, env),
		restart:   restart,
		env:       env,
		onExit:    onExit,
		terminate: make(chan struct{}),
		done:      make(chan struct{}),
	}

	p.mutex.Lock()
	p.cmds[c] = struct{}{}
	p.mutex.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(c.done)
		defer func() {
			p.mutex.Lock()
			delete(p.cmds, c)
			p.mutex.Unlock()
		}()
		c.run()
	}()

	return c
}

func (c *Cmd) run() {
	for {
		ok := c.runInner()
		if c.onExit != nil {
			c.onExit(nil)
		}
		if !ok || !c.restart {
			return
		}
	}
}

// Close terminates the command and waits for it to exit.
func (c *Cmd) Close() {
	select {
	case <-c.terminate:
	default:
		close(c.terminate)
	}
	<-c.done
}
