package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tdex-network/tdex-payjoin/internal/core/domain"
)

var sessions = cli.Command{
	Name:  "sessions",
	Usage: "inspect the stored payjoin sessions",
	Subcommands: []*cli.Command{
		{
			Name:   "list",
			Usage:  "list the stored sessions",
			Action: listSessionsAction,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "role",
					Usage: "receiver or sender, all if missing",
				},
				&cli.BoolFlag{
					Name:  "active",
					Usage: "list only the sessions not yet completed or failed",
				},
			},
		},
		{
			Name:      "show",
			Usage:     "show the session with the given <id>",
			ArgsUsage: "<id>",
			Action:    showSessionAction,
		},
	},
}

type sessionInfo struct {
	ID         string `json:"id"`
	Role       string `json:"role"`
	Status     string `json:"status"`
	Stage      string `json:"stage,omitempty"`
	Uri        string `json:"uri,omitempty"`
	OriginalTx string `json:"original_tx,omitempty"`
	Proposal   string `json:"proposal,omitempty"`
	TxID       string `json:"txid,omitempty"`
	FailReason string `json:"fail_reason,omitempty"`
	Expiry     string `json:"expiry,omitempty"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

func newSessionInfo(s *domain.Session) sessionInfo {
	info := sessionInfo{
		ID:         s.ID,
		Role:       s.Role,
		Status:     s.Status.String(),
		Stage:      s.Stage,
		Uri:        s.Uri,
		OriginalTx: s.OriginalTx,
		Proposal:   s.Proposal,
		TxID:       s.TxID,
		FailReason: s.FailReason,
		CreatedAt:  formatTime(s.CreatedAt),
		UpdatedAt:  formatTime(s.UpdatedAt),
	}
	if s.ExpiryTime > 0 {
		info.Expiry = formatTime(s.ExpiryTime)
	}
	return info
}

func formatTime(unix int64) string {
	return time.Unix(unix, 0).UTC().Format(time.RFC3339)
}

func listSessionsAction(ctx *cli.Context) error {
	role := ctx.String("role")
	if role != "" && role != domain.RoleReceiver && role != domain.RoleSender {
		return fmt.Errorf("unknown role %s", role)
	}

	repoManager, err := getRepoManager()
	if err != nil {
		return err
	}
	defer repoManager.Close()
	repo := repoManager.SessionRepository()

	var list []*domain.Session
	if ctx.Bool("active") {
		list, err = repo.ListActiveSessions(ctx.Context)
	} else {
		list, err = repo.ListSessions(ctx.Context, role)
	}
	if err != nil {
		return err
	}

	infos := make([]sessionInfo, 0, len(list))
	for _, s := range list {
		if role != "" && s.Role != role {
			continue
		}
		infos = append(infos, newSessionInfo(s))
	}
	printJSON(infos)
	return nil
}

func showSessionAction(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return &invalidUsageError{ctx, ctx.Command.Name}
	}

	repoManager, err := getRepoManager()
	if err != nil {
		return err
	}
	defer repoManager.Close()

	session, err := repoManager.SessionRepository().GetSession(
		ctx.Context, ctx.Args().First(),
	)
	if err != nil {
		return err
	}
	printJSON(newSessionInfo(session))
	return nil
}
