package executor_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alliswell-zy/alliswell-can-uds/pkg/executor"
	"github.com/alliswell-zy/alliswell-can-uds/pkg/registry"
)

func sampleProject() *executor.Project {
	sf := uint8(0x03)
	return &executor.Project{
		ID:          "proj-1",
		Name:        "diagnostic sweep",
		Description: "reads VIN then pings a routine",
		Version:     "1.0.0",
		CreatedAt:   time.Unix(1700000000, 0).UTC(),
		UpdatedAt:   time.Unix(1700000100, 0).UTC(),
		Groups: []*executor.Group{
			{
				ID:             "grp-1",
				Name:           "startup",
				Enabled:        true,
				RepeatCount:    1,
				RepeatInterval: 0,
				RunInSequence:  true,
				Commands: []*executor.Command{
					{
						ID:       "cmd-1",
						Name:     "wake frame",
						Type:     executor.TypeCAN,
						SendMode: executor.SendSingle,
						Enabled:  true,
						Status:   executor.StatusPending,
						CAN:      &executor.CANFramePayload{ID: 0x7E0, Data: []byte{0x02, 0x10, 0x03}},
					},
					{
						ID:       "cmd-2",
						Name:     "read vin",
						Type:     executor.TypeUDS,
						SendMode: executor.SendSingle,
						Enabled:  true,
						Status:   executor.StatusPending,
						UDS: &executor.UDSPayload{
							ServiceID:      registry.ReadDataByIdentifier,
							Payload:        []byte{0xF1, 0x90},
							Timeout:        500 * time.Millisecond,
							ExpectResponse: true,
						},
					},
					{
						ID:       "cmd-3",
						Name:     "routine",
						Type:     executor.TypeUDS,
						SendMode: executor.SendSingle,
						Enabled:  true,
						Status:   executor.StatusPending,
						UDS: &executor.UDSPayload{
							ServiceID:      registry.RoutineControl,
							SubFunction:    &sf,
							Payload:        []byte{0xFF, 0x00},
							Timeout:        time.Second,
							ExpectResponse: true,
						},
					},
					{
						ID:       "cmd-4",
						Name:     "settle",
						Type:     executor.TypeWait,
						SendMode: executor.SendSingle,
						Enabled:  true,
						Status:   executor.StatusPending,
						Wait:     &executor.WaitPayload{Duration: 20 * time.Millisecond},
					},
					{
						ID:       "cmd-5",
						Name:     "note",
						Type:     executor.TypeComment,
						SendMode: executor.SendSingle,
						Enabled:  true,
						Status:   executor.StatusPending,
						Comment:  &executor.CommentPayload{Text: "manual checkpoint"},
					},
					{
						ID:       "cmd-6",
						Name:     "future hook",
						Type:     executor.TypeScript,
						SendMode: executor.SendSingle,
						Enabled:  false,
						Status:   executor.StatusPending,
						Script:   &executor.ScriptPayload{Source: "noop()"},
					},
				},
			},
		},
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	original := sampleProject()
	data, err := executor.Save(original)
	require.NoError(t, err)

	loaded, err := executor.Load(data)
	require.NoError(t, err)

	assert.Equal(t, original.ID, loaded.ID)
	assert.Equal(t, original.Name, loaded.Name)
	require.Len(t, loaded.Groups, 1)
	require.Len(t, loaded.Groups[0].Commands, 6)

	assert.Equal(t, original.Groups[0].Commands[0].CAN.Data, loaded.Groups[0].Commands[0].CAN.Data)
	assert.Equal(t, original.Groups[0].Commands[1].UDS.ServiceID, loaded.Groups[0].Commands[1].UDS.ServiceID)
	assert.Equal(t, original.Groups[0].Commands[1].UDS.Payload, loaded.Groups[0].Commands[1].UDS.Payload)
	require.NotNil(t, loaded.Groups[0].Commands[2].UDS.SubFunction)
	assert.Equal(t, uint8(0x03), *loaded.Groups[0].Commands[2].UDS.SubFunction)
	assert.Equal(t, original.Groups[0].Commands[3].Wait.Duration, loaded.Groups[0].Commands[3].Wait.Duration)
	assert.Equal(t, "manual checkpoint", loaded.Groups[0].Commands[4].Comment.Text)
	assert.Equal(t, "noop()", loaded.Groups[0].Commands[5].Script.Source)
}

func TestSaveEncodesUppercaseHexData(t *testing.T) {
	project := sampleProject()
	data, err := executor.Save(project)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\"data\": \"021003\"")
	assert.Contains(t, string(data), "\"payload\": \"F190\"")
}

func TestLoadRejectsMismatchedPayload(t *testing.T) {
	_, err := executor.Load([]byte(`{"id":"p","groups":[{"id":"g","commands":[{"id":"c","command_type":"can_frame"}]}]}`))
	assert.Error(t, err)
}
