package services

// CronbachAlpha estimates internal consistency for a [respondent][item]
// matrix using population variances. It reports false when alpha is
// undefined: fewer than two items or respondents, ragged rows, or zero total
// variance. The result is clamped to [0, 1].
func CronbachAlpha(matrix [][]float64) (float64, bool) {
	n := len(matrix)
	if n < 2 {
		return 0, false
	}
	k := len(matrix[0])
	if k < 2 {
		return 0, false
	}
	totals := make([]float64, n)
	var itemVarSum float64
	column := make([]float64, n)
	for j := 0; j < k; j++ {
		for i, row := range matrix {
			if len(row) != k {
				return 0, false
			}
			column[i] = row[j]
			totals[i] += row[j]
		}
		itemVarSum += popVariance(column)
	}
	totalVar := popVariance(totals)
	if totalVar == 0 {
		return 0, false
	}
	kf := float64(k)
	alpha := kf / (kf - 1) * (1 - itemVarSum/totalVar)
	switch {
	case alpha < 0:
		alpha = 0
	case alpha > 1:
		alpha = 1
	}
	return alpha, true
}

func popVariance(xs []float64) float64 {
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return ss / float64(len(xs))
}
