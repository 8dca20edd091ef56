package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionalUpdateQuery(t *testing.T) {
	commandTime := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)

	tests := []struct {
		name      string
		cond      Condition
		mut       Mutation
		wantSet   string
		wantWhere string
		wantArgs  []interface{}
	}{
		{
			name:      "claim unowned",
			cond:      Condition{Unowned: true},
			mut:       ClaimMutation("u1", "Barn"),
			wantSet:   "owner_id = $2, name = $3, user_access = '{}'::text[]",
			wantWhere: " AND (owner_id IS NULL OR owner_id = '')",
			wantArgs:  []interface{}{"gd-1", "u1", "Barn"},
		},
		{
			name:      "grant to member lacking access",
			cond:      Condition{OwnerID: "u1", LacksAccess: "u2"},
			mut:       GrantMutation("u2"),
			wantSet:   "user_access = array_append(COALESCE(user_access, '{}'::text[]), $2::text)",
			wantWhere: " AND owner_id = $3 AND NOT (COALESCE(user_access, '{}'::text[]) @> ARRAY[$4::text])",
			wantArgs:  []interface{}{"gd-1", "u2", "u1", "u2"},
		},
		{
			name:      "revoke from member with access",
			cond:      Condition{OwnerID: "u1", HasAccess: "u2"},
			mut:       RevokeMutation("u2"),
			wantSet:   "user_access = array_remove(user_access, $2::text)",
			wantWhere: " AND owner_id = $3 AND COALESCE(user_access, '{}'::text[]) @> ARRAY[$4::text]",
			wantArgs:  []interface{}{"gd-1", "u2", "u1", "u2"},
		},
		{
			name:      "record command without precondition",
			cond:      Condition{},
			mut:       RecordCommandMutation(ActionOpen, commandTime),
			wantSet:   "last_command = $2, last_command_time = $3",
			wantWhere: "",
			wantArgs:  []interface{}{"gd-1", "open", commandTime},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args, err := conditionalUpdateQuery("gd-1", tt.cond, tt.mut)
			require.NoError(t, err)

			want := "UPDATE garage_devices SET " + tt.wantSet +
				", updated_at = now() WHERE device_id = $1" + tt.wantWhere +
				" RETURNING " + deviceColumns
			assert.Equal(t, want, query)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestConditionalUpdateQuery_UnknownMutation(t *testing.T) {
	_, _, err := conditionalUpdateQuery("gd-1", Condition{}, Mutation{})
	assert.Error(t, err)
}

func TestAccessList_NeverNil(t *testing.T) {
	assert.Equal(t, []string{}, accessList(nil))
	assert.Equal(t, []string{"u2"}, accessList([]string{"u2"}))
}
