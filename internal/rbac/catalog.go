package rbac

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/odyssey-learn/odyssey-learn/internal/shared"
)

// Definition maps a resource group to its resources and their allowed actions.
type Definition map[string]map[string][]string

// PermissionSeed is one catalog entry derived from a Definition.
type PermissionSeed struct {
	Code     string
	Name     string
	Category string
	Resource string
	Action   string
}

// DefinitionError reports a malformed catalog definition.
type DefinitionError struct {
	Group    string
	Resource string
	Reason   string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("rbac: invalid definition %s/%s: %s", e.Group, e.Resource, e.Reason)
}

var knownActions = map[string]struct{}{
	shared.ActionCreate: {},
	shared.ActionView:   {},
	shared.ActionUpdate: {},
	shared.ActionDelete: {},
}

// Code builds the permission code for action on resource.
func Code(action, resource string) string {
	return "can_" + strings.ToLower(action) + "_" + strings.ToLower(resource)
}

// CategoryName derives the category a resource's permissions belong to.
func CategoryName(resource string) string {
	return title(strings.ReplaceAll(resource, "_", " "))
}

// ReadableName is the human name stored next to a permission code.
func ReadableName(action, resource string) string {
	return "Can " + title(action) + " " + CategoryName(resource)
}

// DefaultDefinition is the catalog shipped with the service.
func DefaultDefinition() Definition {
	crud := []string{shared.ActionCreate, shared.ActionView, shared.ActionUpdate}
	learning := make(map[string][]string, len(shared.LearningResources()))
	for _, resource := range shared.LearningResources() {
		learning[resource] = crud
	}
	return Definition{
		"authentication": {
			shared.ResourceCustomUser:         crud,
			shared.ResourcePermissionCategory: {shared.ActionView},
			shared.ResourceCustomPermission:   {shared.ActionView},
			shared.ResourceRoles:              crud,
		},
		"": learning,
	}
}

// LoadDefinition reads a YAML definition file.
func LoadDefinition(path string) (Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rbac: read definition: %w", err)
	}
	var def Definition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("rbac: parse definition: %w", err)
	}
	return def, nil
}

// Seeds validates the definition and expands it into catalog entries,
// sorted by code and free of duplicates.
func (d Definition) Seeds() ([]PermissionSeed, error) {
	seen := make(map[string]struct{})
	var seeds []PermissionSeed
	for group, resources := range d {
		for resource, actions := range resources {
			if !validResource(resource) {
				return nil, &DefinitionError{Group: group, Resource: resource, Reason: "resource must be lowercase snake case"}
			}
			for _, action := range actions {
				action = strings.ToLower(strings.TrimSpace(action))
				if _, ok := knownActions[action]; !ok {
					return nil, &DefinitionError{Group: group, Resource: resource, Reason: fmt.Sprintf("unknown action %q", action)}
				}
				code := Code(action, resource)
				if _, dup := seen[code]; dup {
					continue
				}
				seen[code] = struct{}{}
				seeds = append(seeds, PermissionSeed{
					Code:     code,
					Name:     ReadableName(action, resource),
					Category: CategoryName(resource),
					Resource: resource,
					Action:   action,
				})
			}
		}
	}
	sort.Slice(seeds, func(i, j int) bool { return seeds[i].Code < seeds[j].Code })
	return seeds, nil
}

// Categories lists the distinct category names of seeds in sorted order.
func Categories(seeds []PermissionSeed) []string {
	set := make(map[string]struct{}, len(seeds))
	for _, seed := range seeds {
		set[seed.Category] = struct{}{}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// title creates a fresh Caser per call; Casers keep state and must not be shared.
func title(s string) string {
	return cases.Title(language.English).String(s)
}

func validResource(resource string) bool {
	if resource == "" || strings.HasPrefix(resource, "_") || strings.HasSuffix(resource, "_") {
		return false
	}
	for _, r := range resource {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return false
		}
	}
	return true
}
