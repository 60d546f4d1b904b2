// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ruleset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	gwerrors "grimm.is/glasswall/internal/errors"
)

func TestExprRulesFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := `
- name: log-all
  log: true
  expr: "true"
- name: block-ssh
  action: block
  expr: ssh != null
- name: rewrite-dns
  action: modify
  modifier:
    name: dns
    args:
      a: 127.0.0.1
  expr: dns != null
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	rules, err := ExprRulesFromYAML(path)
	require.NoError(t, err)
	require.Len(t, rules, 3)

	require.Equal(t, "log-all", rules[0].Name)
	require.True(t, rules[0].Log)
	require.Empty(t, rules[0].Action)

	require.Equal(t, "block", rules[1].Action)
	require.Equal(t, "ssh != null", rules[1].Expr)

	require.NotNil(t, rules[2].Modifier)
	require.Equal(t, "dns", rules[2].Modifier.Name)
	require.Equal(t, "127.0.0.1", rules[2].Modifier.Args["a"])
}

func TestExprRulesFromYAMLErrors(t *testing.T) {
	_, err := ExprRulesFromYAML("/nonexistent/rules.yaml")
	require.Error(t, err)
	require.Equal(t, gwerrors.KindNotFound, gwerrors.GetKind(err))

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not: [valid"), 0o600))
	_, err = ExprRulesFromYAML(path)
	require.Error(t, err)
	require.Equal(t, gwerrors.KindValidation, gwerrors.GetKind(err))
}
