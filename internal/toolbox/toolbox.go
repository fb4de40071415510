// ABOUTME: Security tool implementations over CloudTrail and GuardDuty, with
// ABOUTME: MCP registration of their names, schemas, and handlers.

package toolbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	cloudtrailtypes "github.com/aws/aws-sdk-go-v2/service/cloudtrail/types"
	"github.com/aws/aws-sdk-go-v2/service/guardduty"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	// defaultLookupDays is the audit window when the caller does not say.
	defaultLookupDays = 7

	// maxLookupEvents caps one CloudTrail lookup.
	maxLookupEvents = 10
)

// CloudTrailAPI is the slice of the CloudTrail client the toolbox uses.
type CloudTrailAPI interface {
	LookupEvents(ctx context.Context, params *cloudtrail.LookupEventsInput,
		optFns ...func(*cloudtrail.Options)) (*cloudtrail.LookupEventsOutput, error)
}

// GuardDutyAPI is the slice of the GuardDuty client the toolbox uses.
type GuardDutyAPI interface {
	GetFindings(ctx context.Context, params *guardduty.GetFindingsInput,
		optFns ...func(*guardduty.Options)) (*guardduty.GetFindingsOutput, error)
}

// Toolbox holds the injected AWS clients behind the registered tools.
type Toolbox struct {
	cloudtrail CloudTrailAPI
	guardduty  GuardDutyAPI
	detectorID string
	logger     *slog.Logger

	now func() time.Time
}

// Option customizes a Toolbox.
type Option func(*Toolbox)

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(tb *Toolbox) { tb.logger = l }
}

// New creates a Toolbox from a loaded AWS config. detectorID is the GuardDuty
// detector used by finding lookups.
func New(cfg aws.Config, detectorID string, opts ...Option) *Toolbox {
	return NewWithClients(cloudtrail.NewFromConfig(cfg), guardduty.NewFromConfig(cfg), detectorID, opts...)
}

// NewWithClients creates a Toolbox with explicit clients.
func NewWithClients(ct CloudTrailAPI, gd GuardDutyAPI, detectorID string, opts ...Option) *Toolbox {
	tb := &Toolbox{
		cloudtrail: ct,
		guardduty:  gd,
		detectorID: detectorID,
		logger:     slog.Default().With("component", "toolbox"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(tb)
	}
	return tb
}

// Register adds every tool to the MCP server with its declared schema.
func (tb *Toolbox) Register(s *server.MCPServer) {
	s.AddTool(tb.lookupIPTool(), tb.handleLookupIP)
	s.AddTool(tb.getFindingTool(), tb.handleGetFinding)
}

func (tb *Toolbox) lookupIPTool() mcp.Tool {
	return mcp.NewTool("list_resources_accessed_by_ip",
		mcp.WithDescription("List AWS resources accessed by a source IP address, from the CloudTrail audit trail."),
		mcp.WithString("ip",
			mcp.Required(),
			mcp.Description("Source IP address to look up."),
		),
		mcp.WithNumber("days",
			mcp.Description("How many days of history to search. Defaults to 7."),
		),
	)
}

// accessEvent is the flattened event shape returned to the model.
type accessEvent struct {
	EventName string   `json:"event_name"`
	EventTime string   `json:"event_time"`
	Username  string   `json:"username,omitempty"`
	Resources []string `json:"resources,omitempty"`
	ReadOnly  string   `json:"read_only,omitempty"`
}

func (tb *Toolbox) handleLookupIP(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ip, err := req.RequireString("ip")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	days := req.GetInt("days", defaultLookupDays)
	if days < 1 {
		days = defaultLookupDays
	}

	end := tb.now()
	start := end.Add(-time.Duration(days) * 24 * time.Hour)
	tb.logger.Info("cloudtrail lookup", "ip", ip, "days", days)

	out, err := tb.cloudtrail.LookupEvents(ctx, &cloudtrail.LookupEventsInput{
		LookupAttributes: []cloudtrailtypes.LookupAttribute{{
			AttributeKey:   cloudtrailtypes.LookupAttributeKey("SourceIPAddress"),
			AttributeValue: aws.String(ip),
		}},
		StartTime:  aws.Time(start),
		EndTime:    aws.Time(end),
		MaxResults: aws.Int32(maxLookupEvents),
	})
	if err != nil {
		return mcp.NewToolResultErrorFromErr("CloudTrail lookup failed", err), nil
	}

	if len(out.Events) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No recent activity recorded for IP %s.", ip)), nil
	}

	events := make([]accessEvent, 0, len(out.Events))
	for _, ev := range out.Events {
		ae := accessEvent{
			EventName: aws.ToString(ev.EventName),
			Username:  aws.ToString(ev.Username),
			ReadOnly:  aws.ToString(ev.ReadOnly),
		}
		if ev.EventTime != nil {
			ae.EventTime = ev.EventTime.UTC().Format(time.RFC3339)
		}
		for _, r := range ev.Resources {
			name := aws.ToString(r.ResourceName)
			if name == "" {
				name = "Unknown"
			}
			ae.Resources = append(ae.Resources, name)
		}
		events = append(events, ae)
	}

	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return mcp.NewToolResultErrorFromErr("encoding events", err), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (tb *Toolbox) getFindingTool() mcp.Tool {
	return mcp.NewTool("get_finding",
		mcp.WithDescription("Fetch a GuardDuty finding by id, including severity, type, and affected resource."),
		mcp.WithString("finding_id",
			mcp.Required(),
			mcp.Description("GuardDuty finding id."),
		),
	)
}

// findingSummary is the flattened finding shape returned to the model.
type findingSummary struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	Title       string  `json:"title,omitempty"`
	Description string  `json:"description,omitempty"`
	Severity    float64 `json:"severity"`
	Region      string  `json:"region,omitempty"`
	CreatedAt   string  `json:"created_at,omitempty"`
	UpdatedAt   string  `json:"updated_at,omitempty"`
}

func (tb *Toolbox) handleGetFinding(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	findingID, err := req.RequireString("finding_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if tb.detectorID == "" {
		return mcp.NewToolResultError("no GuardDuty detector configured"), nil
	}
	tb.logger.Info("guardduty lookup", "finding_id", findingID)

	out, err := tb.guardduty.GetFindings(ctx, &guardduty.GetFindingsInput{
		DetectorId: aws.String(tb.detectorID),
		FindingIds: []string{findingID},
	})
	if err != nil {
		return mcp.NewToolResultErrorFromErr("GuardDuty lookup failed", err), nil
	}
	if len(out.Findings) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No finding with id %s.", findingID)), nil
	}

	f := out.Findings[0]
	summary := findingSummary{
		ID:          aws.ToString(f.Id),
		Type:        aws.ToString(f.Type),
		Title:       aws.ToString(f.Title),
		Description: aws.ToString(f.Description),
		Severity:    aws.ToFloat64(f.Severity),
		Region:      aws.ToString(f.Region),
		CreatedAt:   aws.ToString(f.CreatedAt),
		UpdatedAt:   aws.ToString(f.UpdatedAt),
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return mcp.NewToolResultErrorFromErr("encoding finding", err), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
