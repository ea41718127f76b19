package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/medagenda/citas-ai-platform/internal/accounts"
	"github.com/medagenda/citas-ai-platform/internal/app/bootstrap"
	appconfig "github.com/medagenda/citas-ai-platform/internal/config"
	"github.com/medagenda/citas-ai-platform/internal/conversation"
	"github.com/medagenda/citas-ai-platform/internal/phone"
	"github.com/medagenda/citas-ai-platform/pkg/logging"
)

// delete-conversations wipes a patient's chat history for one tenant, for
// privacy requests and for resetting test numbers. It previews by default and
// deletes only after confirmation (or --force).
func main() {
	phoneFlag := flag.String("phone", "", "patient phone number (required)")
	accountID := flag.String("account-id", "", "tenant account id")
	accountName := flag.String("account-name", "", "tenant account name (alternative to --account-id)")
	preview := flag.Bool("preview", false, "list matching conversations without deleting")
	force := flag.Bool("force", false, "skip the confirmation prompt")
	flag.Parse()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if *phoneFlag == "" {
		fmt.Fprintln(os.Stderr, "usage: delete-conversations --phone <number> (--account-id <id> | --account-name <name>) [--preview] [--force]")
		os.Exit(2)
	}
	if *accountID == "" && *accountName == "" {
		fmt.Fprintln(os.Stderr, "one of --account-id or --account-name is required")
		os.Exit(2)
	}

	canonical := phone.Canonicalize(*phoneFlag)
	if canonical == "" {
		fmt.Fprintf(os.Stderr, "could not parse phone number %q\n", *phoneFlag)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, sqlDB, err := bootstrap.OpenPostgres(ctx, cfg)
	if err != nil {
		logger.Error("failed to open postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	defer func() { _ = sqlDB.Close() }()

	accountStore := accounts.NewStore(pool)
	var tenant *accounts.Account
	if *accountID != "" {
		tenant, err = accountStore.Get(ctx, *accountID)
	} else {
		tenant, err = accountStore.GetByName(ctx, *accountName)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "account lookup failed: %v\n", err)
		os.Exit(1)
	}

	convStore := conversation.NewStore(sqlDB,
		time.Duration(cfg.ConversationTTLHours)*time.Hour, cfg.MaxConversationMessages)

	convs, err := convStore.ListByPhone(ctx, tenant.ID, canonical)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list conversations failed: %v\n", err)
		os.Exit(1)
	}
	if len(convs) == 0 {
		fmt.Printf("no conversations for %s on account %s (%s)\n", canonical, tenant.Name, tenant.ID)
		return
	}

	fmt.Printf("account %s (%s), phone %s: %d conversation(s)\n", tenant.Name, tenant.ID, canonical, len(convs))
	for _, conv := range convs {
		fmt.Printf("  %s  session=%d  status=%s  messages=%d  updated=%s\n",
			conv.ID, conv.Session, conv.Status, len(conv.Messages), conv.UpdatedAt.Format(time.RFC3339))
	}
	if *preview {
		return
	}

	if !*force {
		fmt.Print("delete these conversations and their messages? [y/N] ")
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if answer := strings.ToLower(strings.TrimSpace(line)); answer != "y" && answer != "yes" {
			fmt.Println("aborted")
			return
		}
	}

	deleted, err := convStore.DeleteByPhone(ctx, tenant.ID, canonical)
	if err != nil {
		fmt.Fprintf(os.Stderr, "delete failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("deleted %d conversation(s)\n", deleted)
}
