package kv

// config carries the per-store tuning knobs Open and OpenList accept.
type config struct {
	initialBuckets  uint64
	memoryBudget    uint64
	growthStepSmall uint64
	growthStepLarge uint64
}

func defaultConfig() config {
	return config{
		initialBuckets:  defaultTabSize,
		growthStepSmall: growthStepSmall,
		growthStepLarge: growthStepLarge,
	}
}

// Option tunes a store at open time.
type Option func(*config)

// WithMemoryBudget overrides the installed-RAM estimate used to decide
// whether a rebuild can be staged in an anonymous in-memory buffer instead
// of a temporary file, for platforms where the gopsutil reading is
// unreliable. Pass 0 to keep the default query.
func WithMemoryBudget(bytes uint64) Option {
	return func(c *config) { c.memoryBudget = bytes }
}

// WithInitialBuckets sizes a freshly created store's bucket table for an
// expected n keys, picking the nearest prime above n, instead of starting
// from the minimum table size. Existing files keep the bucket count
// recorded in their header.
func WithInitialBuckets(n uint64) Option {
	return func(c *config) {
		if tab, err := findTabSizePrime(n); err == nil {
			c.initialBuckets = tab
		}
	}
}

// WithGrowthSteps overrides the arena growth step sizes in bytes, applied
// below and above the growth threshold respectively. A zero leaves that
// step at its default.
func WithGrowthSteps(small, large uint64) Option {
	return func(c *config) {
		if small > 0 {
			c.growthStepSmall = small
		}
		if large > 0 {
			c.growthStepLarge = large
		}
	}
}
