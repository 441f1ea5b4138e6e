package heal

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/angelmondragon/storefront-autopilot/pkg/deploy"
	pkgerrors "github.com/angelmondragon/storefront-autopilot/pkg/errors"
	"github.com/angelmondragon/storefront-autopilot/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdvisor struct {
	answer string
	err    error
	calls  int
}

func (f *fakeAdvisor) Suggest(ctx context.Context, prompt string) (string, error) {
	f.calls++
	return f.answer, f.err
}

func TestDiagnoseRules(t *testing.T) {
	d, err := NewDiagnoser(nil, logger.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	protected := pkgerrors.Wrap(pkgerrors.CodeRemote, &deploy.APIError{Op: "list env vars", StatusCode: 403}, "list env vars failed")
	assert.Equal(t, RemediationDisableProtection, d.Diagnose(ctx, protected).Remediation)
	assert.Equal(t, RemediationDisableProtection, d.Diagnose(ctx, errors.New("payment start returned status 401")).Remediation)
	assert.Equal(t, RemediationPushEnv, d.Diagnose(ctx, errors.New("gateway api key not set")).Remediation)

	assert.Equal(t, RemediationPushEnv, d.Diagnose(ctx, errors.New("update env var failed")).Remediation)
	assert.Equal(t, RemediationPushEnv, d.Diagnose(ctx, errors.New("missing env PRODUCT_PRICE")).Remediation)
	assert.Equal(t, RemediationPushEnv, d.Diagnose(ctx, errors.New("environment variables not loaded")).Remediation)

	unmatched := d.Diagnose(ctx, errors.New("payment start response missing order id"))
	assert.Equal(t, RemediationNone, unmatched.Remediation)
	assert.Equal(t, RemediationNone, d.Diagnose(ctx, nil).Remediation)
}

func TestDiagnoseIgnoresWordsContainingEnv(t *testing.T) {
	d, err := NewDiagnoser(nil, logger.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	for _, msg := range []string{
		"preview environment not ready",
		"rate limit to prevent abuse",
		"malformed response envelope",
	} {
		assert.Equal(t, RemediationNone, d.Diagnose(ctx, errors.New(msg)).Remediation, msg)
	}
}

func TestDiagnoseAdvisorLimitedToApprovedRemediations(t *testing.T) {
	ctx := context.Background()
	failure := errors.New("build exploded")

	cases := []struct {
		answer string
		err    error
		want   Remediation
	}{
		{answer: "push_env", want: RemediationPushEnv},
		{answer: "  Disable_Protection.", want: RemediationDisableProtection},
		{answer: "rm -rf /", want: RemediationNone},
		{answer: "none", want: RemediationNone},
		{err: fmt.Errorf("timeout"), want: RemediationNone},
	}
	for _, tc := range cases {
		advisor := &fakeAdvisor{answer: tc.answer, err: tc.err}
		d, err := NewDiagnoser(advisor, logger.Nop())
		require.NoError(t, err)

		diag := d.Diagnose(ctx, failure)
		assert.Equal(t, tc.want, diag.Remediation, "answer %q", tc.answer)
		assert.Equal(t, "advisor", diag.Source)
		assert.Equal(t, 1, advisor.calls)
	}
}

func TestSlugAndTargetID(t *testing.T) {
	at := fixedNow
	assert.Equal(t, "keto-meal-plan", slugify("  Keto Meal-Plan!! "))
	assert.Equal(t, "product", slugify("???"))
	assert.Equal(t, "keto-meal-plan-1772366400", targetIDFor("", "Keto Meal Plan", at))
	assert.Equal(t, targetIDFor("", "Keto Meal Plan", at), targetIDFor("", "Keto Meal Plan", at))
	assert.Equal(t, "prj_1", targetIDFor(" prj_1 ", "ignored", at))
}
