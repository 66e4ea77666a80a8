// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tool

// FilterContext is the minimal read-only session state a Predicate
// needs to decide whether a tool is available — the turn engine,
// mode, and conversation, without granting mutation access the way
// the full Context does.
type FilterContext interface {
	ConversationID() string
	Mode() string
}

// Predicate determines whether a tool should be available to the
// model for a given FilterContext.
type Predicate func(ctx FilterContext, t Tool) bool

// StringPredicate allows only the named tools.
func StringPredicate(allowedTools []string) Predicate {
	allowed := make(map[string]bool, len(allowedTools))
	for _, name := range allowedTools {
		allowed[name] = true
	}
	return func(_ FilterContext, t Tool) bool {
		return allowed[t.Name()]
	}
}

// AllowAll allows every tool.
func AllowAll() Predicate {
	return func(_ FilterContext, _ Tool) bool { return true }
}

// DenyAll allows no tool.
func DenyAll() Predicate {
	return func(_ FilterContext, _ Tool) bool { return false }
}

// Combine ANDs multiple predicates together.
func Combine(predicates ...Predicate) Predicate {
	return func(ctx FilterContext, t Tool) bool {
		for _, p := range predicates {
			if !p(ctx, t) {
				return false
			}
		}
		return true
	}
}

// Or ORs multiple predicates together.
func Or(predicates ...Predicate) Predicate {
	return func(ctx FilterContext, t Tool) bool {
		for _, p := range predicates {
			if p(ctx, t) {
				return true
			}
		}
		return false
	}
}

// Not negates a predicate.
func Not(p Predicate) Predicate {
	return func(ctx FilterContext, t Tool) bool {
		return !p(ctx, t)
	}
}

// ByRiskClass allows only tools whose RiskClass is in classes.
func ByRiskClass(classes ...RiskClass) Predicate {
	allowed := make(map[RiskClass]bool, len(classes))
	for _, c := range classes {
		allowed[c] = true
	}
	return func(_ FilterContext, t Tool) bool {
		return allowed[t.RiskClass()]
	}
}
