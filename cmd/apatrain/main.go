// apatrain trains a small generator/discriminator pair on synthetic images, with the adversarial losses
// of the losses package (path length and R1 regularization, adaptive pseudo augmentation and score
// balancing), and reports the training statistics.
package main

import (
	"context"
	"flag"
	"fmt"
	"github.com/janpfeifer/apagan/internal/profilers"
	"github.com/janpfeifer/apagan/internal/ui/spinning"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
	"time"
)

// Flags
var (
	flagIterations  = flag.Int("iterations", 100, "Number of training steps. A value <= 0 trains until interrupted.")
	flagReportEvery = flag.Int("report_every", 10, "Print the statistics every these many steps. 0 disables it.")
	flagParallelism = flag.Int("parallelism", 0, "Goroutines used to prepare batches. 0 uses GOMAXPROCS.")
	flagSeed        = flag.Uint64("seed", 42, "Seed for the synthetic training data.")
	flagListParams  = flag.Bool("list_params", false, "List the hyperparameters that can be set with -config and exit.")
)

// globalCtx is cancelled when the program is interrupted (Ctrl+C).
var globalCtx = context.Background()

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	var globalCancel func()
	globalCtx, globalCancel = context.WithCancel(context.Background())
	spinning.SafeInterrupt(globalCancel, 10*time.Second)
	defer globalCancel()

	prof := must.M1(profilers.Setup(globalCtx))
	defer prof.Stop()

	run := must.M1(newRun())
	if *flagListParams {
		run.printParams()
		return
	}
	fmt.Printf("%s\n%s\n", run.gen, run.disc)
	fmt.Printf("Losses: %+v\n", run.loss.Config())
	fmt.Printf("Balancer: strength K=%g\n", run.balancer.Strength())
	fmt.Printf("Schedule: %s | ...\n", run.schedule.Describe(2))
	must.M(run.train(globalCtx))
}
