package main

import (
	"context"
	"flag"
	"fmt"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	mlctx "github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/janpfeifer/apagan/internal/augment"
	"github.com/janpfeifer/apagan/internal/balance"
	"github.com/janpfeifer/apagan/internal/generics"
	"github.com/janpfeifer/apagan/internal/losses"
	"github.com/janpfeifer/apagan/internal/networks"
	"github.com/janpfeifer/apagan/internal/parameters"
	"github.com/janpfeifer/apagan/internal/replicas"
	"github.com/janpfeifer/apagan/internal/stats"
	"github.com/janpfeifer/apagan/internal/trainer"
	"github.com/janpfeifer/apagan/internal/ui/report"
	"github.com/janpfeifer/apagan/internal/ui/spinning"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"math"
	"runtime"
	"time"
)

var (
	flagBatchSize    = flag.Int("batch", 16, "Batch size.")
	flagConfig       = flag.String("config", "", "Hyperparameters to override, e.g. \"r1_gamma=1,pl_weight=0,with_dataaug\". See -list_params.")
	flagStrength     = flag.Float64("k", balance.DefaultStrength, "Strength of the score rebalancing. 0 disables it.")
	flagMinScore     = flag.Float64("min_score", 0, "If > 0, the scores of the balancer are kept at or above this value.")
	flagAugment      = flag.Bool("aug", false, "Enable the augmentation pipeline, whose probability also drives the adaptive pseudo augmentation.")
	flagADAInterval  = flag.Int("ada_interval", 4, "Adjust the augmentation probability every these many steps.")
	flagGRegInterval = flag.Int("g_reg_interval", 4, "Generator lazy regularization interval. A value <= 1 regularizes along the main loss.")
	flagDRegInterval = flag.Int("d_reg_interval", 16, "Discriminator lazy regularization interval. A value <= 1 regularizes along the main loss.")
	flagLearningRate = flag.Float64("learning_rate", 0, "If > 0, overrides the learning rate hyperparameter.")
	flagPsi          = flag.Float64("psi", 0.7, "Truncation used for the sample generated at the end of the training.")
)

// samplesName is the statistic with the pixel values of the truncated samples generated at the end.
const samplesName = "Samples/pixels"

// run holds the objects used for training.
type run struct {
	ctx       *mlctx.Context
	backend   backends.Backend
	gen       *networks.Generator
	disc      *networks.Discriminator
	balancer  *balance.ScoreBalancer
	pipe      *augment.Pipe
	collector *stats.Collector
	replicas  *replicas.Local
	loss      *losses.Loss
	optimizer *trainer.Optimizer
	schedule  trainer.Schedule
	trainer   *trainer.Trainer
	data      *trainer.Synthetic
}

// newRun creates the context with the hyperparameters (defaults overridden by -config and the flags),
// the networks, the losses and the trainer.
func newRun() (*run, error) {
	r := &run{ctx: networks.NewContext()}
	losses.SetDefaultParams(r.ctx)
	r.ctx.SetParams(map[string]any{
		augment.ParamProbability:   0.0,
		augment.ParamTarget:        0.6,
		augment.ParamSpeedImages:   100.0,
		augment.ParamBrightnessStd: 0.2,
		augment.ParamContrastStd:   0.5 * math.Ln2,
		trainer.ParamClipNorm:      0.0,
	})
	if *flagLearningRate > 0 {
		r.ctx.SetParam(optimizers.ParamLearningRate, *flagLearningRate)
	}
	params := parameters.NewFromConfigString(*flagConfig)
	if err := parameters.ToContext(params, r.ctx); err != nil {
		return nil, err
	}
	if err := parameters.CheckAllUsed(params); err != nil {
		return nil, errors.WithMessagef(err, "use -list_params to see the hyperparameters")
	}
	if *flagListParams {
		return r, nil
	}

	var err error
	err = exceptions.TryCatch[error](func() { r.backend = backends.New() })
	if err != nil {
		return nil, errors.WithMessagef(err, "creating the GoMLX backend")
	}
	klog.V(1).Infof("Backend: %s", r.backend.Description())
	r.gen = networks.NewGenerator(r.ctx)
	r.disc = networks.NewDiscriminator(r.ctx)

	var balanceOptions []balance.Option
	if *flagMinScore > 0 {
		balanceOptions = append(balanceOptions, balance.WithMinScore(*flagMinScore))
	}
	r.balancer = balance.New(*flagStrength, balanceOptions...)

	r.collector = stats.NewCollector()
	r.replicas = replicas.NewLocal()
	lossOptions := []losses.Option{
		losses.WithSyncScope(r.replicas),
		losses.WithStatistics(stats.Multi{r.collector, stats.Logger{Verbosity: 2}}),
	}
	if *flagAugment {
		r.pipe = augment.New(r.ctx)
		lossOptions = append(lossOptions, losses.WithAugmentPipe(r.pipe))
	}
	r.loss, err = losses.New(r.ctx, r.backend, r.gen, r.disc, r.balancer, lossOptions...)
	if err != nil {
		return nil, err
	}
	r.optimizer = trainer.NewOptimizer(r.ctx, r.backend, r.loss)

	r.schedule = trainer.Schedule{GRegInterval: *flagGRegInterval, DRegInterval: *flagDRegInterval}
	var trainerOptions []trainer.Option
	if r.pipe != nil {
		trainerOptions = append(trainerOptions, trainer.WithADA(r.pipe, r.collector, *flagADAInterval))
	}
	r.trainer = trainer.New(r.loss, r.optimizer, r.schedule, trainerOptions...)

	r.data = &trainer.Synthetic{
		BatchSize:  *flagBatchSize,
		Channels:   r.gen.Channels,
		Size:       r.gen.Size,
		ZDim:       r.gen.ZDim,
		NumLatents: 4, // At most 4 phases per step.
		Seed:       *flagSeed,
	}
	return r, nil
}

// printParams lists the hyperparameters and their current values.
func (r *run) printParams() {
	values := make(map[string]any)
	r.ctx.EnumerateParams(func(scope, key string, value any) {
		if scope == mlctx.RootScope {
			values[key] = value
		}
	})
	fmt.Println("Hyperparameters (set with -config=key1=value1,key2=value2,...):")
	for key, value := range generics.SortedKeysAndValues(values) {
		fmt.Printf("\t%s=%v (%T)\n", key, value, value)
	}
}

// train runs the training loop until the number of iterations is reached or ctx is cancelled.
func (r *run) train(ctx context.Context) error {
	count := *flagIterations
	if count <= 0 {
		count = math.MaxInt32
	}
	batchesCtx, cancelBatches := context.WithCancel(ctx)
	defer cancelBatches()
	parallelism := *flagParallelism
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}
	batches, wait := r.data.Prefetch(batchesCtx, 0, count, parallelism)

	spinner := spinning.New(ctx)
	start := time.Now()
	var trainErr error
	for batch := range batches {
		gScore, dScore := r.balancer.Scores()
		status := fmt.Sprintf("step %d: scores G=%.1f D=%.1f", r.trainer.Step(), gScore, dScore)
		if r.pipe != nil {
			status += fmt.Sprintf(", augment p=%.3f", r.pipe.Probability())
		}
		spinner.SetStatus("%s", status)
		if trainErr = r.trainer.TrainStep(batch); trainErr != nil {
			break
		}
		if *flagReportEvery > 0 && r.trainer.Step()%*flagReportEvery == 0 {
			spinner.Done()
			report.Print(fmt.Sprintf("Step %d (%d images, %s)", r.trainer.Step(), r.trainer.NumImages(),
				time.Since(start).Round(time.Millisecond)), r.collector.Snapshot())
			r.resetStatistics()
			spinner = spinning.New(ctx)
		}
		if ctx.Err() != nil {
			break
		}
	}
	spinner.Done()
	cancelBatches()
	for range batches {
		// Drain, so the producers can finish.
	}
	if err := wait(); err != nil && trainErr == nil && ctx.Err() == nil {
		trainErr = err
	}
	if trainErr != nil {
		return trainErr
	}

	state := r.loss.State()
	fmt.Printf("Finished %d steps (%d images) in %s: pl_mean=%.4f, scores G=%.1f D=%.1f, pseudo batch=%v\n",
		r.trainer.Step(), r.trainer.NumImages(), time.Since(start).Round(time.Millisecond),
		state.PathLengthMean, state.GeneratorScore, state.DiscriminatorScore, state.HasPseudoBatch)
	if r.trainer.Step() == 0 {
		return nil
	}
	if err := r.sample(); err != nil {
		return err
	}
	if summary, found := r.collector.Get(samplesName); found {
		report.Print(fmt.Sprintf("Samples (psi=%g)", *flagPsi), []stats.Summary{summary})
	}
	return nil
}

// sample generates a batch with the truncated generator and reports its pixel values.
func (r *run) sample() error {
	latents := r.data.Batch(0).Latents[0]
	var images *tensors.Tensor
	err := exceptions.TryCatch[error](func() {
		images = mlctx.ExecOnce(r.backend, r.ctx, func(ctx *mlctx.Context, z *Node) *Node {
			return r.gen.Generate(ctx.In(losses.ModuleGenerator), z, nil, *flagPsi)
		}, latents)
	})
	if err != nil {
		return errors.WithMessagef(err, "generating samples")
	}
	r.collector.Reset(samplesName)
	r.collector.Report(samplesName, tensors.CopyFlatData[float32](images))
	return nil
}

// resetStatistics after they are reported. With adaptive augmentation, the signs of the real logits are
// kept until the trainer uses them.
func (r *run) resetStatistics() {
	if r.pipe == nil {
		r.collector.Reset("")
		return
	}
	for _, snapshot := range r.collector.Snapshot() {
		if snapshot.Name != "Loss/signs/real" {
			r.collector.Reset(snapshot.Name)
		}
	}
}
