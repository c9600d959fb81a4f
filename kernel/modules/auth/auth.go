// Package auth checks blueprint access rules against the signer badges of
// a transaction.
package auth

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/xuperchain/xkernel/kernel/modules"
	"github.com/xuperchain/xkernel/kernel/types"
)

const Name = "auth"

// SignatureBadge is the badge a signer with the given public key holds.
func SignatureBadge(publicKey string) string {
	return "sig:" + publicKey
}

type Auth struct {
	modules.BaseModule
	badges map[string]bool
}

func New(badges []string) *Auth {
	set := make(map[string]bool, len(badges))
	for _, b := range badges {
		set[b] = true
	}
	return &Auth{badges: set}
}

func (a *Auth) Name() string { return Name }

func (a *Auth) Badges() []string {
	out := make([]string, 0, len(a.badges))
	for b := range a.badges {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

// BeforeInvoke refuses calls whose access rule the badges do not satisfy.
// Lazy loads are kernel initiated and always allowed.
func (a *Auth) BeforeInvoke(info *modules.InvokeInfo) error {
	if info.Function == nil || info.Actor.Kind == types.ActorVirtualLazyLoad {
		return nil
	}
	if !info.Function.Access.Check(a.badges) {
		return errors.Wrapf(types.ErrUnauthorized, "%s.%s requires %s", info.Blueprint, info.Actor.Ident, info.Function.Access)
	}
	return nil
}
