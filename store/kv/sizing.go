package kv

import "fmt"

// primesForTabSize is used by optimize() and lockTableForNum{Items,Keys}():
// a finer-grained table of primes for picking a table size close to the
// true target load factor.
var primesForTabSize = []uint64{
	101, 113, 127, 149, 167, 191,
	211, 233, 257, 283, 313, 347,
	383, 431, 479, 541, 599, 659,
	727, 809, 907, 1009, 1117, 1229,
	1361, 1499, 1657, 1823, 2011, 2213,
	2437, 2683, 2953, 3251, 3581, 3943,
	4339, 4783, 5273, 5801, 6389, 7039,
	7753, 8537, 9391, 10331, 11369, 12511,
	13763, 15149, 16673, 18341, 20177, 22229,
	24469, 26921, 29629, 32603, 35869, 39461,
	43411, 47777, 52561, 57829, 63617, 69991,
	76991, 84691, 93169, 102497, 112757, 124067,
	136481, 150131, 165161, 181693, 199873, 219871,
	241861, 266051, 292661, 321947, 354143, 389561,
	428531, 471389, 518533, 570389, 627433, 690187,
	759223, 835207, 918733, 1010617, 1111687, 1222889,
	1345207, 1479733, 1627723, 1790501, 1969567, 2166529,
	2383219, 2621551, 2883733, 3172123, 3489347, 3838283,
	4222117, 4644329, 5108767, 5619667, 6181639, 6799811,
	7479803, 8227787, 9050599, 9955697, 10951273, 12046403,
	13251047, 14576161, 16033799, 17637203, 19400929, 21341053,
	23475161, 25822679, 28404989, 31245491, 34370053, 37807061,
	41587807, 45746593, 50321261, 55353391, 60888739, 66977621,
	73675391, 81042947, 89147249, 98061979, 107868203, 118655027,
	130520531, 143572609, 157929907, 173722907, 191095213, 210204763,
	231225257, 254347801, 279782593, 307760897, 338536987, 372390691,
	409629809, 450592801, 495652109, 545217341, 599739083, 659713007,
	725684317, 798252779, 878078057, 965885863, 1062474559, 1168722059,
	1285594279, 1414153729, 1555569107, 1711126033, 1882238639, 2070462533,
	2277508787, 2505259681, 2755785653, 3031364227, 3334500667, 3667950739,
	4034745863, 4438220467, 4882042547, 5370246803, 5907271567, 6497998733,
}

// primesDoubleForTabSize is used by the automatic per-insert
// ensureTableSize() policy: a roughly-doubling table, cheaper to grow into
// repeatedly than the fine-grained table above.
var primesDoubleForTabSize = []uint64{
	101, 191, 359, 673, 1249, 2311,
	4283, 7927, 14669, 27143, 50221, 92921,
	171917, 318077, 588463, 1088657, 2014027, 3725951,
	6893011, 12752071, 23591333, 43644023, 80741447, 149371709,
	276337673, 511224709, 945765721, 1749666587, 3236883239, 5988234011,
}

func findTabSizePrime(minNum uint64) (uint64, error) {
	for _, p := range primesForTabSize {
		if p > minNum {
			return p, nil
		}
	}
	return 0, fmt.Errorf("kv: findTabSizePrime: no prime greater than %d", minNum)
}

func findTabSizePrimeDouble(minNum uint64) (uint64, error) {
	for _, p := range primesDoubleForTabSize {
		if p > minNum {
			return p, nil
		}
	}
	return 0, fmt.Errorf("kv: findTabSizePrimeDouble: no prime greater than %d", minNum)
}

// Waste thresholds (bytes).
const (
	wasteThresholdNormal = 30_000_000  // ensureOptimalWaste()
	wasteThresholdBulk   = 100_000_000 // during bulk insert
	wasteThresholdOpt    = 500_000     // optimize()'s content-only compaction tier
)

// File growth step sizes.
const (
	growthStepSmall     = 700_000
	growthStepLarge     = 5_000_000
	growthStepThreshold = 3_000_000
	growthOverflowFrac  = 0.10
)

// bulkStripeSize is the per-thread arena reservation made during bulk
// insert.
const bulkStripeSize = 1_000_000
