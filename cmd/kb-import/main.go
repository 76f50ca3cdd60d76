// kb-import loads groups and topics into the knowledge base store.
//
// Groups and topics come from a JSON file; alternatively -sync-groups pulls
// the group list from the WhatsApp gateway so JIDs and names stay current.
// The managed flag and community keys are only ever set from the JSON file,
// never by the gateway sync.
//
// Usage:
//
//	kb-import -input topics.json -db wakb.db
//	kb-import -sync-groups -db wakb.db
//	kb-import -input topics.json -dry-run
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/wakb/wakb/pkg/config"
	"github.com/wakb/wakb/pkg/kb"
	"github.com/wakb/wakb/pkg/store"
	"github.com/wakb/wakb/pkg/whatsapp"
)

var (
	inputPath  = flag.String("input", "", "Path to JSON file with groups and topics")
	dbPath     = flag.String("db", "", "Path to SQLite database (defaults to database.sqlite from config)")
	cfgPath    = flag.String("config", "", "Path to wakb.yaml (auto-detected if not specified)")
	syncGroups = flag.Bool("sync-groups", false, "Fetch the group list from the gateway and upsert names")
	dryRun     = flag.Bool("dry-run", false, "Don't actually import, just show what would be imported")
	verbose    = flag.Bool("v", false, "Verbose output")
)

// ImportFile is the JSON layout kb-import consumes.
type ImportFile struct {
	Groups []ImportGroup `json:"groups"`
	Topics []ImportTopic `json:"topics"`
}

type ImportGroup struct {
	JID           string   `json:"jid"`
	Name          string   `json:"name"`
	Managed       bool     `json:"managed"`
	CommunityKeys []string `json:"community_keys"`
}

type ImportTopic struct {
	ID       string `json:"id"`
	GroupJID string `json:"group_jid"`
	Subject  string `json:"subject"`
	Summary  string `json:"summary"`
}

func main() {
	flag.Parse()

	logLevel := zerolog.InfoLevel
	if *verbose {
		logLevel = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger().Level(logLevel)

	if *inputPath == "" && !*syncGroups {
		log.Fatal().Msg("Usage: kb-import -input <topics.json> [-db wakb.db] or kb-import -sync-groups")
	}

	cfg, err := config.LoadFromFlagOrDir(*cfgPath, ".")
	if err != nil {
		log.Warn().Err(err).Msg("No configuration file found, using defaults")
		cfg = config.Default()
	}

	sqlitePath := *dbPath
	if sqlitePath == "" {
		sqlitePath = cfg.Database.SQLite
	}
	if sqlitePath == "" {
		log.Fatal().Msg("SQLite database path is empty (set -db or database.sqlite in wakb.yaml)")
	}

	st, err := store.New(sqlitePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", sqlitePath).Msg("Failed to open database")
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if *syncGroups {
		gateway := whatsapp.NewClient(cfg.WhatsApp)
		synced, err := syncGatewayGroups(ctx, log, st, gateway, *dryRun)
		if err != nil {
			log.Fatal().Err(err).Msg("Group sync failed")
		}
		log.Info().Int("groups", synced).Msg("Gateway group sync complete")
	}

	if *inputPath == "" {
		return
	}

	data, err := os.ReadFile(*inputPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *inputPath).Msg("Failed to read input file")
	}

	var file ImportFile
	if err := json.Unmarshal(data, &file); err != nil {
		log.Fatal().Err(err).Msg("Failed to parse input file")
	}

	groupsImported, topicsImported, skipped := 0, 0, 0

	for _, g := range file.Groups {
		jid, err := whatsapp.ParseJID(g.JID)
		if err != nil || !whatsapp.IsGroup(jid) {
			log.Warn().Str("jid", g.JID).Msg("Skipping entry with invalid group JID")
			skipped++
			continue
		}

		if *dryRun {
			fmt.Printf("group  %-30s managed=%-5t keys=%v  %s\n", jid.String(), g.Managed, g.CommunityKeys, g.Name)
			groupsImported++
			continue
		}

		err = st.UpsertGroup(ctx, kb.Group{
			GroupJID:      jid.String(),
			Name:          g.Name,
			Managed:       g.Managed,
			CommunityKeys: g.CommunityKeys,
		})
		if err != nil {
			log.Fatal().Err(err).Str("jid", jid.String()).Msg("Failed to upsert group")
		}
		groupsImported++
		log.Debug().Str("jid", jid.String()).Bool("managed", g.Managed).Msg("Imported group")
	}

	for _, t := range file.Topics {
		if t.ID == "" || t.Subject == "" || t.Summary == "" {
			log.Warn().Str("id", t.ID).Msg("Skipping topic with missing fields")
			skipped++
			continue
		}

		if *dryRun {
			fmt.Printf("topic  %-30s group=%s  %s\n", t.ID, t.GroupJID, t.Subject)
			topicsImported++
			continue
		}

		err := st.UpsertTopic(ctx, kb.Topic{
			ID:       t.ID,
			GroupJID: t.GroupJID,
			Subject:  t.Subject,
			Summary:  t.Summary,
		})
		if err != nil {
			log.Fatal().Err(err).Str("id", t.ID).Msg("Failed to upsert topic")
		}
		topicsImported++
	}

	log.Info().
		Int("groups", groupsImported).
		Int("topics", topicsImported).
		Int("skipped", skipped).
		Bool("dry_run", *dryRun).
		Msg("Import complete")

	if topicsImported > 0 && !*dryRun {
		fmt.Println("\nRun topic-index to embed the imported topics into Milvus.")
	}
}

// syncGatewayGroups refreshes JIDs and names for groups the account is in.
// EnsureGroupExists never touches the managed flag, so a sync cannot widen
// the knowledge base scope.
func syncGatewayGroups(ctx context.Context, log zerolog.Logger, st *store.Store, gateway *whatsapp.Client, dryRun bool) (int, error) {
	groups, err := gateway.UserGroups(ctx)
	if err != nil {
		return 0, err
	}

	synced := 0
	for _, g := range groups {
		jid, err := whatsapp.ParseJID(g.JID)
		if err != nil || !whatsapp.IsGroup(jid) {
			log.Warn().Str("jid", g.JID).Msg("Skipping gateway entry with invalid group JID")
			continue
		}

		if dryRun {
			fmt.Printf("group  %-30s %s (%d participants)\n", jid.String(), g.Name, len(g.Participants))
			synced++
			continue
		}

		if err := st.EnsureGroupExists(ctx, jid.String(), g.Name); err != nil {
			return synced, fmt.Errorf("upserting group %s: %w", jid.String(), err)
		}
		synced++
	}

	return synced, nil
}
