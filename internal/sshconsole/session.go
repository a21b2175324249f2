// SPDX-License-Identifier: MPL-2.0

package sshconsole

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"

	"github.com/flashcmd/flashcmd/internal/command"
)

// Prompt is written before each interactive line.
const Prompt = "> "

// consoleMiddleware runs the session's command line, or an interactive loop
// when the client sent none.
func (s *Server) consoleMiddleware() wish.Middleware {
	return func(next ssh.Handler) ssh.Handler {
		return func(sess ssh.Session) {
			s.logger.Debug("session opened", "user", sess.User(), "remote", sess.RemoteAddr())

			if line := strings.TrimSpace(sess.RawCommand()); line != "" {
				res := s.runLine(sess, line)
				_ = sess.Exit(int(res))
				return
			}
			s.interactive(sess)
			next(sess)
		}
	}
}

// runLine executes one line with the session as output and writes the
// result code after it.
func (s *Server) runLine(sess ssh.Session, line string) command.Result {
	ctx := command.WithOutput(sess.Context(), sess)
	res, err := s.submitter.Submit(ctx, line, Flags)
	if err != nil {
		s.logger.Warn("line not executed", "user", sess.User(), "err", err)
		wish.Errorln(sess, err)
		return command.UnknownCommand
	}
	fmt.Fprintf(sess, "<%s>\n", res)
	return res
}

func (s *Server) interactive(sess ssh.Session) {
	_, _, isPty := sess.Pty()
	eol := "\n"
	if isPty {
		eol = "\r\n"
	}

	fmt.Fprint(sess, Prompt)
	sc := bufio.NewScanner(sess)
	sc.Split(scanCommandLines)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch strings.ToLower(line) {
		case "":
		case "exit", "quit":
			_ = sess.Exit(0)
			return
		default:
			s.runLine(sess, line)
		}
		fmt.Fprint(sess, Prompt)
	}
	fmt.Fprint(sess, eol)
	_ = sess.Exit(0)
}

// scanCommandLines splits on '\n' or '\r' since terminals in raw mode send a
// bare carriage return for Enter.
func scanCommandLines(data []byte, atEOF bool) (int, []byte, error) {
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}
