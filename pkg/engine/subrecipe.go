package engine

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/tombee/souschef/internal/log"
	"github.com/tombee/souschef/pkg/errors"
	"github.com/tombee/souschef/pkg/recipe"
	"github.com/tombee/souschef/pkg/session"
)

// runSubRecipeStep executes another recipe as a step. The child shares the
// parent's session, rate limiter, and step budget, but gets an isolated
// context assembled solely from the step's context map with templates
// resolved against the parent context. The child's final context is this
// step's result.
func (e *Executor) runSubRecipeStep(ctx context.Context, rs *runState, step *recipe.Step, stepContext map[string]any) (any, error) {
	path, err := recipe.Substitute(step.Recipe, stepContext)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving recipe path for step %s", step.ID)
	}

	resolved, err := e.resolveRecipePath(path, rs.recipeDir)
	if err != nil {
		return nil, err
	}

	sub, err := recipe.Load(resolved)
	if err != nil {
		return nil, errors.Wrapf(err, "loading sub-recipe for step %s", step.ID)
	}
	if problems := sub.Validate(); len(problems) > 0 {
		return nil, &errors.ValidationError{
			Field:   "recipe",
			Message: "sub-recipe " + sub.Name + " invalid: " + strings.Join(problems, "; "),
		}
	}

	if err := rs.recursion.CheckDepth(sub.Name); err != nil {
		return nil, err
	}

	// Isolation: the child sees only what the step's context block names.
	childContext := make(map[string]any)
	for k, v := range sub.Context {
		childContext[k] = v
	}
	for k, v := range step.Context {
		resolved, err := recipe.SubstituteAny(v, stepContext)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving context for sub-recipe step %s", step.ID)
		}
		childContext[k] = resolved
	}

	e.logger.Info("entering sub-recipe",
		log.String(log.StepIDKey, step.ID),
		log.String(log.RecipeKey, sub.Name),
		log.Int("depth", rs.recursion.Depth+1))

	child := &runState{
		recipe:    sub,
		recipeDir: filepath.Dir(resolved),
		sessionID: rs.sessionID,
		state: &session.State{
			SessionID:      rs.sessionID,
			RecipeName:     sub.Name,
			RecipeVersion:  sub.Version,
			Started:        rs.state.Started,
			ProjectPath:    rs.state.ProjectPath,
			Context:        childContext,
			CompletedSteps: []string{},
			IsStaged:       sub.IsStaged(),
		},
		context:   childContext,
		recursion: rs.recursion.EnterRecipe(sub.Name, step.Recursion),
		limiter:   rs.limiter,
		persist:   false,
	}

	result, err := e.run(ctx, child)
	if err != nil {
		return nil, err
	}
	return result.Context, nil
}

// resolveRecipePath turns a recipe reference into a filesystem path.
// @namespace:path references go through the mention resolver; relative paths
// resolve against the parent recipe's directory, falling back to the project
// path.
func (e *Executor) resolveRecipePath(path, parentDir string) (string, error) {
	if strings.HasPrefix(path, "@") {
		if e.resolver == nil {
			return "", &errors.ConfigError{
				Key:    "mention_resolver",
				Reason: "recipe reference " + path + " requires a mention resolver",
			}
		}
		return e.resolver.Resolve(path)
	}
	if filepath.IsAbs(path) {
		return path, nil
	}
	base := parentDir
	if base == "" {
		base = e.projectPath
	}
	return filepath.Join(base, path), nil
}
