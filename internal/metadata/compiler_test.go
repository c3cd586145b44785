package metadata_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specforge/internal/core/apperror"
	"specforge/internal/metadata"
	"specforge/internal/metadata/schematest"
)

func TestCompileFixture(t *testing.T) {
	s := schematest.Fixture(t)

	assert.Equal(t, []string{"Client", "Employee", "Project", "Task"}, s.Order)

	client, ok := s.Entity("client")
	require.True(t, ok)
	assert.Equal(t, "client", client.Table)
	assert.Equal(t, []string{"id", "name", "short", "status", "address_street", "address_zip", "address_city", "_ql", "_qd", "_sys"},
		client.ColumnNames())
	street, _ := client.Column("address_street")
	require.NotNil(t, street.Aggregate)
	assert.Equal(t, metadata.AggregateRef{Source: "address", Field: "street", Type: "Address"}, *street.Aggregate)
	assert.True(t, street.Nullable)
	assert.Equal(t, &metadata.LabelExpr{Column: "name", Secondary: "short"}, client.Label)
	assert.Equal(t, []string{"name"}, client.UpsertKey())

	project, _ := s.Entity("Project")
	require.True(t, project.HasConcatLabel())
	assert.Equal(t, []string{"-"}, project.Label.Separators())
	assert.Equal(t, []string{"client", "code"}, project.Label.Columns())
	assert.Equal(t, []metadata.KeyGroup{{Name: "uk1_project", Columns: []string{"client", "code"}}}, project.UniqueKeys)
	assert.Equal(t, []metadata.KeyGroup{{Name: "ix_project_code", Columns: []string{"code"}}}, project.Indexes)
	assert.Equal(t, []string{"client", "code"}, project.UpsertKey())

	fk, ok := project.ForeignKey("manager")
	require.True(t, ok)
	assert.Equal(t, "manager_id", fk.Column)
	assert.Equal(t, "Employee", fk.Target)
	assert.True(t, fk.Optional)
	same, _ := project.ForeignKey("manager_id")
	assert.Same(t, fk, same)

	budget, _ := project.Column("budget")
	assert.Equal(t, float64(0), budget.NullValue)
	assert.Equal(t, "0", budget.Range.Min.String())
	assert.Nil(t, budget.Range.Max)

	require.Len(t, project.Computed, 1)
	rule := project.Computed[0]
	assert.Equal(t, "open_tasks", rule.Column)
	assert.Equal(t, metadata.ScheduleDaily, rule.Schedule)
	assert.Equal(t, "count(Task.project)", rule.Rule)
	assert.Equal(t, []string{"Task.project_id"}, rule.Dependencies)
	spec, periodic := rule.Schedule.CronSpec()
	assert.True(t, periodic)
	assert.Equal(t, "@daily", spec)

	openTasks, _ := project.Column("open_tasks")
	assert.False(t, openTasks.Required(), "computed columns are never required")

	assert.Equal(t, []metadata.Constraint{{Code: "budget_cap", Fields: []string{"budget"}, Expr: "budget <= 1000000.0"}}, project.Constraints)

	employee, _ := s.Entity("Employee")
	self, _ := employee.ForeignKey("manager")
	assert.True(t, self.SelfRef)
	assert.ElementsMatch(t, []metadata.InboundRef{
		{Entity: "Employee", Column: "manager_id", Name: "manager"},
		{Entity: "Project", Column: "manager_id", Name: "manager"},
		{Entity: "Task", Column: "assignee_id", Name: "assignee"},
	}, employee.Inbound)

	task, _ := s.Entity("Task")
	assert.Equal(t, metadata.ViewSpec{
		Name: "v_task",
		Labels: []metadata.ViewLabel{
			{Alias: "project_label", Column: "project_id", Target: "Project"},
			{Alias: "assignee_label", Column: "assignee_id", Target: "Employee"},
		},
		Filter: "_ql = 0 AND _sys = false",
	}, task.View)
	projectFK, _ := task.ForeignKey("project")
	assert.True(t, projectFK.Hard())
	col, _ := task.Column("project_id")
	assert.True(t, col.Required())
	assert.Equal(t, metadata.NullRecordID, col.Neutral())

	assert.Len(t, s.ComputedRules(), 1)
}

func TestCompileOrdersTargetsFirst(t *testing.T) {
	// documents deliberately listed with dependents first
	s := schematest.Compile(t, schematest.Catalog, schematest.Task, schematest.Project, schematest.Employee, schematest.Client)
	pos := make(map[string]int)
	for i, n := range s.Order {
		pos[n] = i
	}
	assert.Less(t, pos["Project"], pos["Task"])
	assert.Less(t, pos["Employee"], pos["Task"])
	assert.Less(t, pos["Employee"], pos["Project"], "optional edge kept when it closes no cycle")
}

func compileErr(t *testing.T, docs ...string) error {
	t.Helper()
	cat, err := metadata.LoadCatalog(strings.NewReader(schematest.Catalog))
	require.NoError(t, err)
	_, err = metadata.NewCompiler(cat).Compile(context.Background(), schematest.Documents(t, docs...))
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeCompile), "got %v", err)
	return err
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		docs []string
		want string
	}{
		{
			name: "unresolvable type",
			docs: []string{"# A\n| Attribute | Type |\n|---|---|\n| x | Nowhere |\n"},
			want: "neither built-in",
		},
		{
			name: "required cycle",
			docs: []string{
				"# A\n| Attribute | Type |\n|---|---|\n| b | B |\n",
				"# B\n| Attribute | Type |\n|---|---|\n| a | A |\n",
			},
			want: "cycle",
		},
		{
			name: "duplicate entity",
			docs: []string{
				"# A\n| Attribute | Type |\n|---|---|\n| x | text |\n",
				"# a\n| Attribute | Type |\n|---|---|\n| x | text |\n",
			},
			want: "declared twice",
		},
		{
			name: "reserved column",
			docs: []string{"# A\n| Attribute | Type |\n|---|---|\n| _ql | integer |\n"},
			want: "reserved",
		},
		{
			name: "entity named like a type",
			docs: []string{"# Status\n| Attribute | Type |\n|---|---|\n| x | text |\n"},
			want: "collides",
		},
		{
			name: "label references unknown field",
			docs: []string{"# A\n[LABEL=concat(x, '-', y)]\n| Attribute | Type |\n|---|---|\n| x | text |\n"},
			want: "unknown field",
		},
		{
			name: "min on text",
			docs: []string{"# A\n| Attribute | Type |\n|---|---|\n| x | text [MIN=1] |\n"},
			want: "integer or real",
		},
		{
			name: "null override not in enum",
			docs: []string{"# A\n| Attribute | Type |\n|---|---|\n| s | Status [NULL=Z] |\n"},
			want: "enum",
		},
		{
			name: "two label columns",
			docs: []string{"# A\n| Attribute | Type |\n|---|---|\n| x | text [LABEL] |\n| y | text [LABEL] |\n"},
			want: "already has a LABEL",
		},
		{
			name: "constraint on unknown field",
			docs: []string{"# A\n| Attribute | Type |\n|---|---|\n| x | text |\n## Constraints\n- c (y): y > 0\n"},
			want: "unknown field",
		},
		{
			name: "generated column collision",
			docs: []string{"# A\n| Attribute | Type |\n|---|---|\n| address | Address |\n| address_zip | text |\n"},
			want: "generated twice",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := compileErr(t, tt.docs...)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCompilePermitsOptionalAndSelfCycles(t *testing.T) {
	s := schematest.Compile(t, "",
		"# Node\n| Attribute | Type |\n|---|---|\n| name | text [LABEL] |\n| parent | Node |\n| peer | Peer [OPTIONAL] |\n",
		"# Peer\n| Attribute | Type |\n|---|---|\n| node | Node |\n",
	)
	assert.Equal(t, []string{"Node", "Peer"}, s.Order)
}

func TestCompileHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := metadata.NewCompiler(nil).Compile(ctx, schematest.Documents(t, schematest.Employee))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConstraintCheckHook(t *testing.T) {
	cat, err := metadata.LoadCatalog(strings.NewReader(schematest.Catalog))
	require.NoError(t, err)
	var seen []string
	c := metadata.NewCompiler(cat, metadata.WithConstraintCheck(func(e *metadata.Entity, con metadata.Constraint) error {
		seen = append(seen, e.Name+"."+con.Code)
		return nil
	}))
	_, err = c.Compile(context.Background(), schematest.Documents(t, schematest.Employee, schematest.Project))
	require.NoError(t, err)
	assert.Equal(t, []string{"Project.budget_cap"}, seen)
}

func TestToSnake(t *testing.T) {
	for in, want := range map[string]string{
		"Project":      "project",
		"ProjectCode":  "project_code",
		"HTTPServer":   "http_server",
		"open_tasks":   "open_tasks",
		"Order2Line":   "order2_line",
		"already_snak": "already_snak",
	} {
		assert.Equal(t, want, metadata.ToSnake(in), in)
	}
}
