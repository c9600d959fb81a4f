package blueprint

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"github.com/pkg/errors"

	"github.com/xuperchain/xkernel/kernel/types"
)

// RuleKind selects how an access rule matches the signer badges.
type RuleKind string

const (
	RuleAllowAll   RuleKind = "allow_all"
	RuleDenyAll    RuleKind = "deny_all"
	RuleRequireAny RuleKind = "require_any"
	RuleRequireAll RuleKind = "require_all"
)

// AccessRule guards one blueprint function.
type AccessRule struct {
	Kind   RuleKind `json:"kind"`
	Badges []string `json:"badges,omitempty"`
}

func AllowAll() AccessRule { return AccessRule{Kind: RuleAllowAll} }
func DenyAll() AccessRule  { return AccessRule{Kind: RuleDenyAll} }

func RequireAny(badges ...string) AccessRule {
	return AccessRule{Kind: RuleRequireAny, Badges: badges}
}

func RequireAll(badges ...string) AccessRule {
	return AccessRule{Kind: RuleRequireAll, Badges: badges}
}

// Check reports whether the badge set satisfies the rule. An empty rule
// kind is treated as allow all.
func (r AccessRule) Check(badges map[string]bool) bool {
	switch r.Kind {
	case RuleAllowAll, "":
		return true
	case RuleDenyAll:
		return false
	case RuleRequireAny:
		for _, b := range r.Badges {
			if badges[b] {
				return true
			}
		}
		return false
	case RuleRequireAll:
		for _, b := range r.Badges {
			if !badges[b] {
				return false
			}
		}
		return true
	}
	return false
}

func (r AccessRule) String() string {
	if len(r.Badges) == 0 {
		return string(r.Kind)
	}
	return fmt.Sprintf("%s%v", r.Kind, r.Badges)
}

// FunctionDef describes one entry point of a blueprint.
type FunctionDef struct {
	// Receiver is true for methods called on an object of the blueprint.
	Receiver bool       `json:"receiver"`
	Access   AccessRule `json:"access"`
	// Export is the wasm export to call, the function name when empty.
	Export string `json:"export,omitempty"`
}

// Virtualize names the function that materialises a virtual global node
// of Entity on first access.
type Virtualize struct {
	Entity   types.EntityType `json:"entity"`
	Function string           `json:"function"`
}

// Definition is the kernel-relevant part of a blueprint.
type Definition struct {
	Name      string                  `json:"name"`
	Functions map[string]*FunctionDef `json:"functions"`
	// AutoDrop nodes of this blueprint are dropped when the owning frame
	// returns successfully.
	AutoDrop   bool        `json:"auto_drop,omitempty"`
	Virtualize *Virtualize `json:"virtualize,omitempty"`
}

var nameRegex = regexp.MustCompile("^[a-zA-Z_][0-9a-zA-Z_]*$")

const nameMaxSize = 64

// ValidName returns an error when name cannot name a blueprint or function.
func ValidName(name string) error {
	if len(name) == 0 || len(name) > nameMaxSize {
		return fmt.Errorf("name length expect [1~%d], actual: %d", nameMaxSize, len(name))
	}
	if !nameRegex.MatchString(name) {
		return fmt.Errorf("name %q does not fit the naming rule", name)
	}
	return nil
}

func (d *Definition) Validate() error {
	if err := ValidName(d.Name); err != nil {
		return errors.Wrap(err, "blueprint")
	}
	for ident := range d.Functions {
		if err := ValidName(ident); err != nil {
			return errors.Wrapf(err, "blueprint %s function", d.Name)
		}
	}
	if v := d.Virtualize; v != nil {
		if !v.Entity.IsVirtual() {
			return fmt.Errorf("blueprint %s virtualizes non virtual entity %s", d.Name, v.Entity)
		}
		if _, ok := d.Functions[v.Function]; !ok {
			return fmt.Errorf("blueprint %s virtualize function %s not defined", d.Name, v.Function)
		}
	}
	return nil
}

// Function returns the definition of ident, which must be a method when
// method is set and a function otherwise.
func (d *Definition) Function(ident string, method bool) (*FunctionDef, error) {
	fn, ok := d.Functions[ident]
	if !ok || fn.Receiver != method {
		return nil, errors.Wrapf(types.ErrFunctionNotFound, "%s.%s", d.Name, ident)
	}
	return fn, nil
}

// Idents returns the function names in order.
func (d *Definition) Idents() []string {
	idents := make([]string, 0, len(d.Functions))
	for ident := range d.Functions {
		idents = append(idents, ident)
	}
	sort.Strings(idents)
	return idents
}

func (d *Definition) Marshal() ([]byte, error) {
	return json.Marshal(d)
}

func UnmarshalDefinition(data []byte) (*Definition, error) {
	d := new(Definition)
	if err := json.Unmarshal(data, d); err != nil {
		return nil, errors.Wrapf(types.ErrDecodePayload, "blueprint definition: %v", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}
