// SPDX-License-Identifier: MPL-2.0

package command

import (
	"context"
	"strings"
)

// aliasHandler re-enters the pipeline with a stored command line.
type aliasHandler struct {
	target string
}

// Invoke runs the stored line with the caller's flags. Arguments given to the
// alias itself are dropped.
func (a *aliasHandler) Invoke(ctx context.Context, inv *Invocation) Result {
	return inv.Engine.ExecuteLine(ctx, a.target, inv.Flags)
}

// CreateAlias registers alias as a command that runs target. Aliases share the
// command namespace, so an alias can neither shadow a command nor another alias.
// Cycles between aliases are stopped by the engine's depth limit.
func (e *Engine) CreateAlias(alias, target string) Result {
	if alias == "" || strings.TrimSpace(target) == "" {
		e.logger.Warn("alias needs a name and a command", "alias", alias, "target", target)
		return BadArgument
	}
	if existing, ok := e.registry.Find(alias); ok {
		e.logger.Warn("the alias you are trying to use is already in use (as an alias or as a command)",
			"alias", alias, "existing", existing.Name())
		return BadArgument
	}

	owned := strings.Clone(target)
	if err := e.registry.Register(strings.Clone(alias), &aliasHandler{target: owned}, owned); err != nil {
		return ResultFromError(err)
	}
	e.logger.Info("new alias has been set", "alias", alias, "runs", target)
	return OK
}
