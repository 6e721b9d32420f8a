package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Perceptus-Labs/perceptus-agent/models"
)

func TestOptimize_IdentityWhenNothingApplies(t *testing.T) {
	script := "var x = 1;\nlog(x);"

	result := Optimize(script, nil)

	assert.Equal(t, script, result.OriginalScript)
	assert.Equal(t, script, result.OptimizedScript)
	assert.Empty(t, result.Improvements)
	assert.Empty(t, result.Suggestions)
	assert.Empty(t, result.Warnings)
	assert.Zero(t, result.Score)
	assert.True(t, result.IsSuccessful)
}

func TestOptimize_Formatting(t *testing.T) {
	script := "a();   \n\n\n\nb();\t"

	result := Optimize(script, nil)

	assert.Equal(t, "a();\n\nb();", result.OptimizedScript)
	require.Len(t, result.Improvements, 2)
	assert.Equal(t, "formatting", result.Improvements[0].Type)
	assert.InDelta(t, 30.0, result.Score, 0.001)
}

func TestOptimize_BusyLoopWarns(t *testing.T) {
	script := "while (true) {\n  click(100, 200);\n}"

	result := Optimize(script, nil)

	require.Len(t, result.Suggestions, 2)
	assert.Equal(t, "Add delay to infinite loop", result.Suggestions[0].Title)
	assert.Equal(t, "Prefer selectors over coordinates", result.Suggestions[1].Title)
	assert.Len(t, result.Warnings, 1)
	assert.LessOrEqual(t, result.Score, maxScore)
}

func TestOptimize_LoopWithSleepIsFine(t *testing.T) {
	result := Optimize("while(true){ sleep(100); }", nil)
	assert.Empty(t, result.Suggestions)
}

func TestOptimize_ContextMismatch(t *testing.T) {
	ctx := &models.ScreenContext{PackageName: "com.example.mail"}

	result := Optimize(`launch("com.example.chat");`, ctx)

	require.Len(t, result.Suggestions, 1)
	assert.Equal(t, "context", result.Suggestions[0].Category)
}

func TestSuggestions_ExecutionHints(t *testing.T) {
	tests := []struct {
		name  string
		exec  *models.ExecutionResult
		title string
	}{
		{"timeout", &models.ExecutionResult{Error: "Timeout waiting for view"}, "Increase wait timeout"},
		{"not found", &models.ExecutionResult{Error: "element not found"}, "Guard missing elements"},
		{"other", &models.ExecutionResult{Error: "boom"}, "Handle runtime errors"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Suggestions("log(1);", tt.exec)
			require.Len(t, out, 1)
			assert.Equal(t, tt.title, out[0].Title)
		})
	}

	assert.Empty(t, Suggestions("log(1);", &models.ExecutionResult{Success: true}))
	assert.Empty(t, Suggestions("log(1);", nil))
}

func TestRepair(t *testing.T) {
	errs := []models.ValidationError{{Line: 1, Message: "unexpected end of input"}}

	t.Run("closes brackets in order", func(t *testing.T) {
		got := Repair("if (a) {\n  foo([1, 2", errs)
		assert.Equal(t, "if (a) {\n  foo([1, 2\n])}\n", got)
	})

	t.Run("ignores brackets in strings", func(t *testing.T) {
		got := Repair(`log("(");`, errs)
		assert.Equal(t, `log("(");`, got)
	})

	t.Run("collapses semicolons", func(t *testing.T) {
		assert.Equal(t, "a();", Repair("a();;;", errs))
	})

	t.Run("no errors is identity", func(t *testing.T) {
		assert.Equal(t, "foo(", Repair("foo(", nil))
	})
}
