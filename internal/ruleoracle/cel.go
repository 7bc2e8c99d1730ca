package ruleoracle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/rs/zerolog/log"
)

type compiledCollection struct {
	programs []cel.Program
	// compileErr is reported as a failed verdict rather than at load time.
	compileErr error
}

// CELOracle evaluates rule collections in process. Expressions see
// user_id (int), order_amount (double) and as_of (timestamp).
type CELOracle struct {
	collections map[int64]compiledCollection
}

func NewCELOracle(set RuleSet) (*CELOracle, error) {
	env, err := cel.NewEnv(
		cel.Variable("user_id", cel.IntType),
		cel.Variable("order_amount", cel.DoubleType),
		cel.Variable("as_of", cel.TimestampType),
	)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}

	o := &CELOracle{collections: make(map[int64]compiledCollection, len(set.Collections))}
	for _, c := range set.Collections {
		compiled := compiledCollection{}
		for _, expr := range c.Rules {
			prg, err := compile(env, expr)
			if err != nil {
				log.Warn().Err(err).Int64("collection_id", c.ID).Str("expression", expr).Msg("rule does not compile")
				compiled.compileErr = err
				break
			}
			compiled.programs = append(compiled.programs, prg)
		}
		o.collections[c.ID] = compiled
	}
	return o, nil
}

func compile(env *cel.Env, expr string) (cel.Program, error) {
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression %q must return bool, got %s", expr, ast.OutputType())
	}
	return env.Program(ast)
}

func (o *CELOracle) Evaluate(ctx context.Context, req EvaluateRequest) ([]Verdict, error) {
	amount, _ := req.OrderAmount.Float64()
	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}
	vars := map[string]any{
		"user_id":      req.UserID,
		"order_amount": amount,
		"as_of":        asOf,
	}

	verdicts := make([]Verdict, 0, len(req.CollectionIDs))
	for _, id := range req.CollectionIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		verdicts = append(verdicts, o.evaluate(id, vars))
	}
	return verdicts, nil
}

func (o *CELOracle) evaluate(id int64, vars map[string]any) Verdict {
	if id == NoCollection {
		return Verdict{CollectionID: id, Passed: true}
	}

	c, ok := o.collections[id]
	if !ok {
		return Verdict{CollectionID: id, ErrorMessage: fmt.Sprintf("Rule collection not found: %d", id)}
	}
	if c.compileErr != nil {
		return Verdict{CollectionID: id, ErrorMessage: c.compileErr.Error()}
	}
	if len(c.programs) == 0 {
		return Verdict{CollectionID: id, ErrorMessage: fmt.Sprintf("No rules found in collection: %d", id)}
	}

	for i, prg := range c.programs {
		out, _, err := prg.Eval(vars)
		if err != nil {
			return Verdict{CollectionID: id, ErrorMessage: fmt.Sprintf("rule %d: %v", i, err)}
		}
		if passed, _ := out.Value().(bool); !passed {
			return Verdict{CollectionID: id, ErrorMessage: fmt.Sprintf("rule %d not satisfied", i)}
		}
	}
	return Verdict{CollectionID: id, Passed: true}
}
