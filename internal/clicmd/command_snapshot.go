package clicmd

import (
	"context"
	"os"
	"os/user"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/justSteve/claude-config-history/internal/engine"
)

// commandSnapshot groups every snapshot-lifecycle subcommand under
// `cchist snapshot ...`, mirroring the teacher's commandSnapshot grouping
// convention (cli/command_snapshot.go's embedding of per-verb structs).
type commandSnapshot struct {
	create  commandSnapshotCreate
	list    commandSnapshotList
	show    commandSnapshotShow
	delete  commandSnapshotDelete
	compare commandSnapshotCompare
	tag     commandSnapshotTag
	stats   commandSnapshotStats
	health  commandSnapshotHealth
}

func (c *commandSnapshot) setup(app *kingpin.Application, svc *App) {
	parent := app.Command("snapshot", "Manage configuration snapshots")

	c.create.setup(parent, svc)
	c.list.setup(parent, svc)
	c.show.setup(parent, svc)
	c.delete.setup(parent, svc)
	c.compare.setup(parent, svc)
	c.tag.setup(parent, svc)
	c.stats.setup(parent, svc)
	c.health.setup(parent, svc)
}

type commandSnapshotCreate struct {
	trigger    string
	originator string
	notes      string
	tags       []string
	capBytes   int64
}

func (c *commandSnapshotCreate) setup(parent *kingpin.CmdClause, svc *App) {
	cmd := parent.Command("create", "Capture a new snapshot")
	cmd.Flag("trigger", "Trigger kind (manual, scheduled, ...)").Default("manual").StringVar(&c.trigger)
	cmd.Flag("originator", "Who or what triggered this snapshot").Default(currentUser()).StringVar(&c.originator)
	cmd.Flag("notes", "Freeform notes to attach").StringVar(&c.notes)
	cmd.Flag("tag", "Tag to attach (repeatable)").StringsVar(&c.tags)
	cmd.Flag("content-cap-bytes", "Largest file content captured in full; larger files are hashed but not stored").
		Default(strconv.FormatInt(engine.DefaultSizeCapBytes, 10)).Int64Var(&c.capBytes)
	cmd.Action(svc.engineAction(c.run))
}

func (c *commandSnapshotCreate) run(ctx context.Context, eng *engine.Engine) error {
	snap, err := eng.CreateSnapshot(ctx, engine.CreateSnapshotRequest{
		Trigger: c.trigger, Originator: c.originator, Notes: c.notes, Tags: c.tags, SizeCap: c.capBytes,
	})
	if err != nil {
		return err
	}

	kind := "snapshot"
	if snap.Baseline {
		kind = "baseline snapshot"
	}

	noteColor.Printf("created %s #%d (fingerprint %s)\n", kind, snap.ID, snap.Fingerprint[:12]) //nolint:errcheck

	return nil
}

type commandSnapshotList struct {
	trigger string
	limit   int
}

func (c *commandSnapshotList) setup(parent *kingpin.CmdClause, svc *App) {
	cmd := parent.Command("list", "List snapshots").Alias("ls")
	cmd.Flag("trigger", "Filter by trigger kind").StringVar(&c.trigger)
	cmd.Flag("limit", "Maximum rows").Default("50").IntVar(&c.limit)
	cmd.Action(svc.engineAction(c.run))
}

func (c *commandSnapshotList) run(ctx context.Context, eng *engine.Engine) error {
	res, err := eng.ListSnapshots(ctx, engine.ListFilter{Trigger: c.trigger}, engine.Sort{}, engine.Page{Limit: c.limit})
	if err != nil {
		return err
	}

	for _, s := range res.Snapshots {
		flag := " "
		if s.ChangedFromPrevious {
			flag = "*"
		}

		noteColor.Printf("%s %6d  %-20s %-12s %s\n", flag, s.ID, //nolint:errcheck
			s.CreatedAt.Format(time.RFC3339), s.Trigger, s.Fingerprint[:12])
	}

	return nil
}

type commandSnapshotShow struct {
	id int64
}

func (c *commandSnapshotShow) setup(parent *kingpin.CmdClause, svc *App) {
	cmd := parent.Command("show", "Show snapshot detail")
	cmd.Arg("id", "Snapshot id").Required().Int64Var(&c.id)
	cmd.Action(svc.engineAction(c.run))
}

func (c *commandSnapshotShow) run(ctx context.Context, eng *engine.Engine) error {
	detail, err := eng.GetSnapshot(ctx, c.id, engine.IncludeRelations{
		Observations: true, Changes: true, Entities: true, Tags: true, Annotations: true, ParseErrors: true,
	})
	if err != nil {
		return err
	}

	noteColor.Printf("snapshot #%d  fingerprint=%s  baseline=%v  changed=%v\n", //nolint:errcheck
		detail.Snapshot.ID, detail.Snapshot.Fingerprint, detail.Snapshot.Baseline, detail.Snapshot.ChangedFromPrevious)
	noteColor.Printf("files=%d dirs=%d bytes=%d errors=%d\n", //nolint:errcheck
		detail.Snapshot.FileCount, detail.Snapshot.DirCount, detail.Snapshot.ByteCount, detail.Snapshot.ErrorCount)

	for _, ch := range detail.Changes {
		noteColor.Printf("  %-10s %s\n", ch.Kind, ch.Path) //nolint:errcheck
	}

	for _, t := range detail.Tags {
		noteColor.Printf("  tag: %s\n", t.Name) //nolint:errcheck
	}

	return nil
}

type commandSnapshotDelete struct {
	id int64
}

func (c *commandSnapshotDelete) setup(parent *kingpin.CmdClause, svc *App) {
	cmd := parent.Command("delete", "Delete a snapshot and reclaim its blobs").Alias("rm")
	cmd.Arg("id", "Snapshot id").Required().Int64Var(&c.id)
	cmd.Action(svc.engineAction(c.run))
}

func (c *commandSnapshotDelete) run(ctx context.Context, eng *engine.Engine) error {
	return eng.DeleteSnapshot(ctx, c.id)
}

type commandSnapshotCompare struct {
	fromID int64
	toID   int64
}

func (c *commandSnapshotCompare) setup(parent *kingpin.CmdClause, svc *App) {
	cmd := parent.Command("compare", "Compare two snapshots").Alias("diff")
	cmd.Arg("from", "Earlier snapshot id").Required().Int64Var(&c.fromID)
	cmd.Arg("to", "Later snapshot id").Required().Int64Var(&c.toID)
	cmd.Action(svc.engineAction(c.run))
}

func (c *commandSnapshotCompare) run(ctx context.Context, eng *engine.Engine) error {
	cmp, err := eng.CompareSnapshots(ctx, c.fromID, c.toID)
	if err != nil {
		return err
	}

	for _, ch := range cmp.PathChanges {
		noteColor.Printf("  %-10s %s\n", ch.Kind, ch.Path) //nolint:errcheck
	}

	noteColor.Printf("mcp servers: +%d -%d ~%d, total changes: %d\n", //nolint:errcheck
		cmp.EntityDeltas.Summary.McpServerAdded, cmp.EntityDeltas.Summary.McpServerRemoved,
		cmp.EntityDeltas.Summary.McpServerModified, cmp.EntityDeltas.Summary.Total())

	return nil
}

type commandSnapshotTag struct {
	id      int64
	add     string
	remove  string
	creator string
}

func (c *commandSnapshotTag) setup(parent *kingpin.CmdClause, svc *App) {
	cmd := parent.Command("tag", "Add or remove a tag")
	cmd.Arg("id", "Snapshot id").Required().Int64Var(&c.id)
	cmd.Flag("add", "Tag name to add").StringVar(&c.add)
	cmd.Flag("remove", "Tag name to remove").StringVar(&c.remove)
	cmd.Flag("creator", "Tag creator").Default(currentUser()).StringVar(&c.creator)
	cmd.Action(svc.engineAction(c.run))
}

func (c *commandSnapshotTag) run(ctx context.Context, eng *engine.Engine) error {
	if c.add != "" {
		if err := eng.AddTag(ctx, c.id, c.add, c.creator); err != nil {
			return err
		}
	}

	if c.remove != "" {
		if err := eng.RemoveTag(ctx, c.id, c.remove); err != nil {
			return err
		}
	}

	return nil
}

type commandSnapshotStats struct{}

func (c *commandSnapshotStats) setup(parent *kingpin.CmdClause, svc *App) {
	cmd := parent.Command("stats", "Show content-store and snapshot statistics")
	cmd.Action(svc.engineAction(c.run))
}

func (c *commandSnapshotStats) run(ctx context.Context, eng *engine.Engine) error {
	stats, err := eng.Stats(ctx)
	if err != nil {
		return err
	}

	noteColor.Printf("snapshots: %d  total bytes: %d\n", stats.SnapshotCount, stats.TotalBytes)    //nolint:errcheck
	noteColor.Printf("distinct blobs: %d  refs: %d  dedup ratio: %.2fx\n",                          //nolint:errcheck
		stats.Content.DistinctBlobs, stats.Content.TotalRefs, stats.Content.DeduplicationRatio())

	return nil
}

type commandSnapshotHealth struct{}

func (c *commandSnapshotHealth) setup(parent *kingpin.CmdClause, svc *App) {
	cmd := parent.Command("health", "Check database and content-store health")
	cmd.Action(svc.engineAction(c.run))
}

func (c *commandSnapshotHealth) run(ctx context.Context, eng *engine.Engine) error {
	status := eng.Health(ctx)

	var checks []string
	for name, result := range status.Checks {
		checks = append(checks, name+"="+result)
	}

	if status.OK {
		noteColor.Printf("healthy: %s\n", strings.Join(checks, " ")) //nolint:errcheck
		return nil
	}

	errorColor.Printf("unhealthy: %s\n", strings.Join(checks, " ")) //nolint:errcheck

	return nil
}

func currentUser() string {
	if name := os.Getenv("USER"); name != "" {
		return name
	}

	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}

	return "unknown"
}
