// Package derive keeps every computed spec-sheet field equal to a pure
// function of its inputs. Each rule recomputes its output and writes it
// back only when the value actually changed. That equality guard is the
// load-bearing invariant: a derived write is itself an edit and would
// re-trigger the engine, so without the guard the recompute/change-detect
// cycle never terminates.
package derive

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"example.com/backstage/services/specsheet/internal/document"
)

// maxPasses bounds the fixpoint loop. The equality guard makes the second
// pass a no-op for any rule set of pure functions, so the cap is a safety
// net against a future rule violating that, never hit in practice.
const maxPasses = 10

// Rule recomputes one derived field. Inputs documents the paths the rule
// reads; Apply returns the number of values it wrote (0 when the guard
// suppressed the write).
type Rule struct {
	Name   string
	Inputs []string
	Output string
	Apply  func(*document.SpecSheet) int
}

// Engine evaluates the fixed rule set.
type Engine struct {
	rules []Rule
}

// NewEngine creates an engine with the canonical rule set.
func NewEngine() *Engine {
	return &Engine{rules: Rules()}
}

// Pass evaluates every rule once against the sheet and returns the number
// of values written. Rules are idempotent and order-independent for a
// fixed set of inputs, so a full sweep per edit is correct at this
// document size; the guard, not dependency tracking, is what keeps the
// sweep cheap and loop-free.
func (e *Engine) Pass(sheet *document.SpecSheet) int {
	writes := 0
	for _, r := range e.rules {
		writes += r.Apply(sheet)
	}
	return writes
}

// Run evaluates passes until a full pass writes nothing, and returns the
// total number of values written. It performs no I/O and runs to
// completion synchronously.
func (e *Engine) Run(sheet *document.SpecSheet) int {
	total := 0
	for i := 0; i < maxPasses; i++ {
		n := e.Pass(sheet)
		total += n
		if n == 0 {
			return total
		}
	}
	log.Warn().
		Int("passes", maxPasses).
		Msg("derivation did not settle within pass limit")
	return total
}

// Warnings returns soft-invariant violations for the sheet. These are
// advisory only and never block editing or saving.
func Warnings(sheet *document.SpecSheet) []string {
	var warnings []string
	if len(sheet.BillOfMaterials.Ingredients) > 0 {
		sum := 0.0
		for _, ing := range sheet.BillOfMaterials.Ingredients {
			sum += coerce(ing.Percentage)
		}
		if !floatEq(sum, 100) {
			warnings = append(warnings,
				fmt.Sprintf("ingredient percentages sum to %.2f, expected 100", sum))
		}
	}
	return warnings
}
