package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"

	"controlroom/internal/dispatch"
	"controlroom/internal/notifier"
	"controlroom/internal/questionnaire"
	"controlroom/internal/reconcile"
	"controlroom/pkg/domain"

	"github.com/dustin/go-humanize"
)

var errQuit = errors.New("quit")

const helpText = `commands:
  cad GRADING | TYPE | LOCATION | DESCRIPTION [| CHANNEL]
  assign REF CALLSIGN        unassign REF CALLSIGN
  end REF                    delete REF
  grade REF GRADING          comment REF TEXT
  open REF                   close
  unit CALLSIGN | TYPE | CREW [| NOTES]
  status CALLSIGN STATUS     rmunit CALLSIGN [CALLSIGN...]
  fids                       answer ANSWER
  list                       help
  quit`

// console reads operator commands and renders the reconciled view as text.
type console struct {
	svc    *dispatch.Service
	sink   notifier.Sink
	engine *reconcile.Engine
	op     domain.Operator

	mu     sync.Mutex
	out    io.Writer
	walker *questionnaire.Walker
}

var _ reconcile.Renderer = (*console)(nil)

func newConsole(svc *dispatch.Service, sink notifier.Sink, op domain.Operator, out io.Writer) *console {
	return &console{svc: svc, sink: notifier.OrNop(sink), op: op, out: out}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// RenderLists prints open calls, available units and who is on duty.
func (c *console) RenderLists(view reconcile.View) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "== OPEN CADS (%d) ==\n", len(view.OpenCADs))
	for _, cad := range view.OpenCADs {
		units := strings.Join(cad.AssignedUnits, ",")
		if units == "" {
			units = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", cad.Reference, cad.Grading, cad.Type, cad.Location, units, humanize.Time(cad.StartTime))
	}
	fmt.Fprintf(tw, "== AVAILABLE UNITS (%d) ==\n", len(view.AvailableUnits))
	for _, u := range view.AvailableUnits {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", u.Callsign, u.Type, u.Crew)
	}
	fmt.Fprintf(tw, "== ON DUTY (%d) ==\n", len(view.OnDutyOperators))
	for _, op := range view.OnDutyOperators {
		fmt.Fprintf(tw, "%s\t%s\tseen %s\n", op.Name, op.ID, humanize.Time(op.LastSeen))
	}
	for _, w := range view.Warnings {
		fmt.Fprintf(tw, "! %s\n", w.Message)
	}
	_ = tw.Flush()
}

// RenderDetail prints one call with its units and comments.
func (c *console) RenderDetail(cad domain.CAD, units []domain.Unit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "== CAD %s [%s] %s ==\n", cad.Reference, cad.Grading, cad.Status)
	fmt.Fprintf(c.out, "%s at %s (channel %s)\n%s\n", cad.Type, cad.Location, orDash(cad.Channel), cad.Description)
	for _, u := range units {
		fmt.Fprintf(c.out, "  unit %s %s %s\n", u.Callsign, u.Type, u.Status)
	}
	for _, cm := range cad.Comments {
		fmt.Fprintf(c.out, "  [%s] %s: %s\n", cm.Timestamp.Format("15:04"), cm.Operator, cm.Text)
	}
}

// CloseDetail reports that the open call no longer exists.
func (c *console) CloseDetail(reference string) {
	c.printf("CAD %s no longer exists; detail closed\n", reference)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Serve executes commands from in until quit, EOF or ctx is done.
func (c *console) Serve(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := c.Execute(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				c.printf("error: %v\n", err)
			}
		}
	}
}

// Execute runs a single command line.
func (c *console) Execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	switch strings.ToLower(verb) {
	case "help":
		c.printf("%s\n", helpText)
	case "quit", "exit":
		return errQuit
	case "list":
		outcome, err := c.engine.Reconcile(ctx)
		if err != nil {
			return err
		}
		if outcome != reconcile.OutcomeRendered {
			c.RenderLists(c.engine.View())
		}
	case "cad":
		return c.createCAD(ctx, rest)
	case "assign":
		if len(args) != 2 {
			return usage("assign REF CALLSIGN")
		}
		return c.svc.AssignUnit(ctx, c.op, args[0], args[1])
	case "unassign":
		if len(args) != 2 {
			return usage("unassign REF CALLSIGN")
		}
		return c.svc.UnassignUnit(ctx, c.op, args[0], args[1])
	case "end":
		if len(args) != 1 {
			return usage("end REF")
		}
		cad, err := c.svc.EndCall(ctx, c.op, args[0])
		if err != nil {
			return err
		}
		c.printf("CAD %s closed\n", cad.Reference)
	case "delete":
		if len(args) != 1 {
			return usage("delete REF")
		}
		return c.svc.DeleteCAD(ctx, c.op, args[0])
	case "grade":
		if len(args) != 2 {
			return usage("grade REF GRADING")
		}
		return c.svc.SetGrading(ctx, c.op, args[0], domain.Grading(strings.ToUpper(args[1])))
	case "comment":
		ref, text, _ := strings.Cut(rest, " ")
		if ref == "" {
			return usage("comment REF TEXT")
		}
		return c.svc.AddComment(ctx, c.op, ref, text)
	case "open":
		if len(args) != 1 {
			return usage("open REF")
		}
		c.engine.OpenDetail(args[0])
	case "close":
		c.walker = nil
		c.engine.CloseContext()
	case "unit":
		return c.createUnit(ctx, rest)
	case "status":
		if len(args) != 2 {
			return usage("status CALLSIGN STATUS")
		}
		status := domain.UnitStatus(strings.ToUpper(args[1]))
		_, err := c.svc.UpdateUnit(ctx, c.op, args[0], dispatch.UnitEdit{Status: &status})
		return err
	case "rmunit":
		if len(args) == 0 {
			return usage("rmunit CALLSIGN [CALLSIGN...]")
		}
		return c.svc.RemoveUnits(ctx, c.op, args)
	case "fids":
		c.walker = questionnaire.NewWalker()
		c.engine.OpenModal()
		c.sink.Notify(ctx, notifier.AssessmentOpened(c.op))
		q, _ := c.walker.Current()
		c.printQuestion(q)
	case "answer":
		return c.answer(rest)
	default:
		return fmt.Errorf("unknown command %q (try help)", verb)
	}
	return nil
}

func usage(u string) error { return fmt.Errorf("usage: %s", u) }

func splitFields(rest string) []string {
	parts := strings.Split(rest, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func (c *console) createCAD(ctx context.Context, rest string) error {
	parts := splitFields(rest)
	if len(parts) < 4 {
		return usage("cad GRADING | TYPE | LOCATION | DESCRIPTION [| CHANNEL]")
	}
	in := dispatch.NewCAD{
		Grading:     domain.Grading(strings.ToUpper(parts[0])),
		Type:        parts[1],
		Location:    parts[2],
		Description: parts[3],
	}
	if len(parts) > 4 {
		in.Channel = parts[4]
	}
	cad, err := c.svc.CreateCAD(ctx, c.op, in)
	if err != nil {
		return err
	}
	c.printf("CAD %s created\n", cad.Reference)
	return nil
}

func (c *console) createUnit(ctx context.Context, rest string) error {
	parts := splitFields(rest)
	if len(parts) < 3 {
		return usage("unit CALLSIGN | TYPE | CREW [| NOTES]")
	}
	in := dispatch.NewUnit{Callsign: parts[0], Type: parts[1], Crew: parts[2]}
	if len(parts) > 3 {
		in.Notes = parts[3]
	}
	unit, err := c.svc.CreateUnit(ctx, c.op, in)
	if err != nil {
		return err
	}
	c.printf("unit %s added\n", unit.Callsign)
	return nil
}

func (c *console) answer(rest string) error {
	if c.walker == nil {
		return errors.New("no assessment in progress (run fids)")
	}
	a, err := questionnaire.ParseAnswer(rest)
	if err != nil {
		return err
	}
	if err := c.walker.Answer(a); err != nil {
		return err
	}
	if q, ok := c.walker.Current(); ok {
		c.printQuestion(q)
		return nil
	}
	res, _ := c.walker.Result()
	c.printResult(res)
	c.walker = nil
	c.engine.CloseContext()
	return nil
}

func (c *console) printQuestion(q questionnaire.Question) {
	opts := make([]string, len(q.Answers))
	for i, a := range q.Answers {
		opts[i] = string(a)
	}
	c.printf("[%s] %s\n%s (%s)\n", q.Header, q.Title, q.Prompt, strings.Join(opts, "/"))
}

func (c *console) printResult(res questionnaire.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "== %s ==\n", res.Title)
	if res.Subtitle != "" {
		fmt.Fprintln(c.out, res.Subtitle)
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "TACTIC SELECTED:\t%s\n", res.Tactic)
	fmt.Fprintf(tw, "TYPE OF DEPLOYMENT:\t%s\n", res.DeploymentType)
	fmt.Fprintf(tw, "REQUIRED TROJANS:\t%s\n", res.Trojans)
	fmt.Fprintf(tw, "WORKING STRATEGY:\t%s\n", res.Strategy)
	fmt.Fprintf(tw, "RISK victim/public/police/subject:\t%s/%s/%s/%s\n", res.Risks.Victim, res.Risks.Public, res.Risks.Police, res.Risks.Subject)
	_ = tw.Flush()
	for _, n := range res.Notes {
		fmt.Fprintf(c.out, "  - %s\n", n)
	}
}
