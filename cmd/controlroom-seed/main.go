// Command controlroom-seed fills the configured store with plausible units
// and calls for demos and load testing. Records go through the dispatch
// service, so every invariant holds for the seeded state.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"controlroom/internal/config"
	"controlroom/internal/dispatch"
	"controlroom/internal/logger"
	"controlroom/internal/storage"
	"controlroom/pkg/domain"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/joho/godotenv"
)

var exitFunc = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "controlroom-seed: %v\n", err)
		stop()
		exitFunc(1)
	}
}

func run(ctx context.Context, args []string, out, errOut io.Writer) error {
	fs := flag.NewFlagSet("controlroom-seed", flag.ContinueOnError)
	fs.SetOutput(errOut)
	opts := plan{}
	fs.IntVar(&opts.Units, "units", 12, "units to create")
	fs.IntVar(&opts.CADs, "cads", 6, "calls to create")
	fs.IntVar(&opts.Closed, "closed", 2, "calls to close after creation")
	fs.Int64Var(&opts.Seed, "seed", 0, "random seed (0 picks one)")
	envFile := fs.String("env", ".env", "dotenv file loaded before configuration")
	if err := fs.Parse(args); err != nil {
		return err
	}
	_ = godotenv.Load(*envFile)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.Configure(cfg.LogLevel, cfg.LogFormat, errOut)
	adapter, err := storage.Open(ctx, cfg, log, nil)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer adapter.Close()

	svc := dispatch.NewService(adapter.Store(), dispatch.Options{Logger: log})
	sum, err := seed(ctx, svc, gofakeit.New(opts.Seed), opts)
	fmt.Fprintf(out, "seeded %d units, %d calls (%d closed) into %s storage\n", sum.Units, sum.CADs, sum.Closed, adapter.Backend())
	return err
}

// plan sizes one seeding run.
type plan struct {
	Units  int
	CADs   int
	Closed int
	Seed   int64
}

type summary struct {
	Units  int
	CADs   int
	Closed int
}

var (
	phonetic  = []string{"ALPHA", "BRAVO", "CHARLIE", "DELTA", "ECHO", "FOXTROT", "GOLF", "HOTEL"}
	unitTypes = []string{"IRV", "ARV", "DOG", "TRAFFIC", "NPT", "CID"}
	callTypes = []string{"ASSAULT", "ROAD TRAFFIC COLLISION", "THEFT", "CONCERN FOR WELFARE", "BURGLARY", "DOMESTIC", "SUSPICIOUS VEHICLE", "FIREARMS"}
	gradings  = []domain.Grading{domain.GradingImmediate, domain.GradingDelayed, domain.GradingStandard}
	channels  = []string{"OPS1", "OPS2", "TAC1", "TAC2"}
)

var seeder = domain.Operator{Name: "Seeder", ID: "SEED"}

func seed(ctx context.Context, svc *dispatch.Service, faker *gofakeit.Faker, p plan) (summary, error) {
	var sum summary
	var callsigns []string
	for i := 0; i < p.Units; i++ {
		cs := fmt.Sprintf("%s%d", phonetic[i%len(phonetic)], i/len(phonetic)+1)
		unit, err := svc.CreateUnit(ctx, seeder, dispatch.NewUnit{
			Callsign: cs,
			Type:     faker.RandomString(unitTypes),
			Crew:     fmt.Sprintf("PC %s, PC %s", faker.LastName(), faker.LastName()),
		})
		if domain.IsValidation(err) {
			continue
		}
		if err != nil {
			return sum, err
		}
		callsigns = append(callsigns, unit.Callsign)
		sum.Units++
	}

	var refs []string
	for i := 0; i < p.CADs; i++ {
		cad, err := svc.CreateCAD(ctx, seeder, dispatch.NewCAD{
			Type:        faker.RandomString(callTypes),
			Location:    fmt.Sprintf("%s, %s", faker.Street(), faker.City()),
			Grading:     gradings[faker.IntRange(0, len(gradings)-1)],
			Description: faker.Sentence(10),
			Channel:     faker.RandomString(channels),
		})
		if err != nil {
			return sum, err
		}
		refs = append(refs, cad.Reference)
		sum.CADs++
		if len(callsigns) > 0 && faker.Bool() {
			cs := callsigns[0]
			callsigns = callsigns[1:]
			if err := svc.AssignUnit(ctx, seeder, cad.Reference, cs); err != nil {
				return sum, err
			}
		}
	}

	for i := 0; i < p.Closed && i < len(refs); i++ {
		if _, err := svc.EndCall(ctx, seeder, refs[i]); err != nil {
			return sum, err
		}
		sum.Closed++
	}
	return sum, nil
}
