package executor

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alliswell-zy/alliswell-can-uds/pkg/registry"
)

// projectDoc is the on-disk JSON shape of a Project (spec.md §6 "Persisted
// state: project file").
type projectDoc struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Version     string     `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Groups      []groupDoc `json:"groups"`
}

type groupDoc struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Description    string       `json:"description"`
	Enabled        bool         `json:"enabled"`
	RepeatCount    int          `json:"repeat_count"`
	RepeatInterval int64        `json:"repeat_interval"`
	RunInSequence  bool         `json:"run_in_sequence"`
	Commands       []commandDoc `json:"commands"`
}

type commandDoc struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	CommandType CommandType     `json:"command_type"`
	SendMode    SendMode        `json:"send_mode"`
	Period      int64           `json:"period"`
	Enabled     bool            `json:"enabled"`
	CANFrame    *canFrameDoc    `json:"can_frame,omitempty"`
	UDSCommand  *udsCommandDoc  `json:"uds_command,omitempty"`
	WaitCommand *waitCommandDoc `json:"wait_command,omitempty"`
	CommentCmd  *commentDoc     `json:"comment_command,omitempty"`
	ScriptCmd   *scriptDoc      `json:"script_command,omitempty"`
}

type canFrameDoc struct {
	ID       uint32 `json:"id"`
	Extended bool   `json:"extended"`
	FD       bool   `json:"fd"`
	Data     string `json:"data"`
}

type udsCommandDoc struct {
	ServiceID      uint8  `json:"service_id"`
	SubFunction    string `json:"sub_function,omitempty"`
	Payload        string `json:"payload"`
	TimeoutMS      int64  `json:"timeout_ms"`
	ExpectResponse bool   `json:"expect_response"`
}

type waitCommandDoc struct {
	DurationMS int64 `json:"duration_ms"`
}

type commentDoc struct {
	Text string `json:"text"`
}

type scriptDoc struct {
	Source string `json:"source"`
}

func encodeHex(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return strings.ToUpper(hex.EncodeToString(b))
}

func decodeHex(s string) ([]byte, error) {
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(s)
}

// Save renders project as the project-file JSON document.
func Save(project *Project) ([]byte, error) {
	doc := projectDoc{
		ID:          project.ID,
		Name:        project.Name,
		Description: project.Description,
		Version:     project.Version,
		CreatedAt:   project.CreatedAt,
		UpdatedAt:   project.UpdatedAt,
	}
	for _, g := range project.Groups {
		gd := groupDoc{
			ID:             g.ID,
			Name:           g.Name,
			Description:    g.Description,
			Enabled:        g.Enabled,
			RepeatCount:    g.RepeatCount,
			RepeatInterval: g.RepeatInterval.Milliseconds(),
			RunInSequence:  g.RunInSequence,
		}
		for _, c := range g.Commands {
			cd, err := commandToDoc(c)
			if err != nil {
				return nil, err
			}
			gd.Commands = append(gd.Commands, cd)
		}
		doc.Groups = append(doc.Groups, gd)
	}
	return json.MarshalIndent(doc, "", "  ")
}

func commandToDoc(c *Command) (commandDoc, error) {
	if err := c.Validate(); err != nil {
		return commandDoc{}, err
	}
	cd := commandDoc{
		ID:          c.ID,
		Name:        c.Name,
		CommandType: c.Type,
		SendMode:    c.SendMode,
		Period:      c.Period.Milliseconds(),
		Enabled:     c.Enabled,
	}
	switch c.Type {
	case TypeCAN:
		cd.CANFrame = &canFrameDoc{
			ID:       c.CAN.ID,
			Extended: c.CAN.Extended,
			FD:       c.CAN.FD,
			Data:     encodeHex(c.CAN.Data),
		}
	case TypeUDS:
		sub := ""
		if c.UDS.SubFunction != nil {
			sub = fmt.Sprintf("%02X", *c.UDS.SubFunction)
		}
		cd.UDSCommand = &udsCommandDoc{
			ServiceID:      uint8(c.UDS.ServiceID),
			SubFunction:    sub,
			Payload:        encodeHex(c.UDS.Payload),
			TimeoutMS:      c.UDS.Timeout.Milliseconds(),
			ExpectResponse: c.UDS.ExpectResponse,
		}
	case TypeWait:
		cd.WaitCommand = &waitCommandDoc{DurationMS: c.Wait.Duration.Milliseconds()}
	case TypeComment:
		cd.CommentCmd = &commentDoc{Text: c.Comment.Text}
	case TypeScript:
		cd.ScriptCmd = &scriptDoc{Source: c.Script.Source}
	}
	return cd, nil
}

// Load parses a project-file JSON document into a Project.
func Load(data []byte) (*Project, error) {
	var doc projectDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	project := &Project{
		ID:          doc.ID,
		Name:        doc.Name,
		Description: doc.Description,
		Version:     doc.Version,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
	for _, gd := range doc.Groups {
		group := &Group{
			ID:             gd.ID,
			Name:           gd.Name,
			Description:    gd.Description,
			Enabled:        gd.Enabled,
			RepeatCount:    gd.RepeatCount,
			RepeatInterval: time.Duration(gd.RepeatInterval) * time.Millisecond,
			RunInSequence:  gd.RunInSequence,
		}
		for _, cd := range gd.Commands {
			cmd, err := docToCommand(cd)
			if err != nil {
				return nil, err
			}
			group.Commands = append(group.Commands, cmd)
		}
		project.Groups = append(project.Groups, group)
	}
	return project, nil
}

func docToCommand(cd commandDoc) (*Command, error) {
	cmd := &Command{
		ID:       cd.ID,
		Name:     cd.Name,
		Type:     cd.CommandType,
		SendMode: cd.SendMode,
		Period:   time.Duration(cd.Period) * time.Millisecond,
		Enabled:  cd.Enabled,
		Status:   StatusPending,
	}
	switch cd.CommandType {
	case TypeCAN:
		if cd.CANFrame == nil {
			return nil, fmt.Errorf("executor: command %q tagged can_frame missing payload", cd.ID)
		}
		data, err := decodeHex(cd.CANFrame.Data)
		if err != nil {
			return nil, err
		}
		cmd.CAN = &CANFramePayload{ID: cd.CANFrame.ID, Extended: cd.CANFrame.Extended, FD: cd.CANFrame.FD, Data: data}
	case TypeUDS:
		if cd.UDSCommand == nil {
			return nil, fmt.Errorf("executor: command %q tagged uds_command missing payload", cd.ID)
		}
		payload, err := decodeHex(cd.UDSCommand.Payload)
		if err != nil {
			return nil, err
		}
		var sub *uint8
		if cd.UDSCommand.SubFunction != "" {
			b, err := decodeHex(cd.UDSCommand.SubFunction)
			if err != nil || len(b) != 1 {
				return nil, fmt.Errorf("executor: command %q has invalid sub_function", cd.ID)
			}
			sub = &b[0]
		}
		cmd.UDS = &UDSPayload{
			ServiceID:      registry.ServiceID(cd.UDSCommand.ServiceID),
			SubFunction:    sub,
			Payload:        payload,
			Timeout:        time.Duration(cd.UDSCommand.TimeoutMS) * time.Millisecond,
			ExpectResponse: cd.UDSCommand.ExpectResponse,
		}
	case TypeWait:
		if cd.WaitCommand == nil {
			return nil, fmt.Errorf("executor: command %q tagged wait missing payload", cd.ID)
		}
		cmd.Wait = &WaitPayload{Duration: time.Duration(cd.WaitCommand.DurationMS) * time.Millisecond}
	case TypeComment:
		if cd.CommentCmd == nil {
			return nil, fmt.Errorf("executor: command %q tagged comment missing payload", cd.ID)
		}
		cmd.Comment = &CommentPayload{Text: cd.CommentCmd.Text}
	case TypeScript:
		if cd.ScriptCmd == nil {
			return nil, fmt.Errorf("executor: command %q tagged script missing payload", cd.ID)
		}
		cmd.Script = &ScriptPayload{Source: cd.ScriptCmd.Source}
	default:
		return nil, fmt.Errorf("executor: command %q has unknown command_type %q", cd.ID, cd.CommandType)
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}
