package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

var readPasswordFunc = term.ReadPassword // mockable

// console renders gateway and session feedback on a terminal.
type console struct {
	mu        sync.Mutex
	out       io.Writer
	tty       bool
	redirects chan struct{}
}

func newConsole(out io.Writer, tty bool) *console {
	return &console{out: out, tty: tty, redirects: make(chan struct{}, 1)}
}

func (c *console) Show(context.Context) {
	if !c.tty {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.out, "正在加载…")
}

func (c *console) Hide(context.Context) {
	if !c.tty {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.out, "\r\033[K")
}

func (c *console) Notify(_ context.Context, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, message)
}

func (c *console) RedirectToLogin(context.Context) {
	c.mu.Lock()
	fmt.Fprintln(c.out, "请运行 `tyust login` 重新登录")
	c.mu.Unlock()

	select {
	case c.redirects <- struct{}{}:
	default:
	}
}

// promptPassword reads a password without echo, or a plain line when stdin
// is not a terminal.
func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "密码: ")
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		pwd, err := readPasswordFunc(fd)
		fmt.Fprintln(os.Stderr)
		return string(pwd), err
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
