package optimization

import "math"

// Standard minimization landscapes used to exercise optimizers. Each has its
// global minimum value 0.

// Sphere is sum(x_i^2), minimum at the origin.
func Sphere(x []float64) (float64, error) {
	sum := 0.0
	for _, v := range x {
		sum += v * v
	}
	return sum, nil
}

// Rosenbrock is the banana valley, minimum at (1, ..., 1).
func Rosenbrock(x []float64) (float64, error) {
	sum := 0.0
	for i := 0; i < len(x)-1; i++ {
		a := 1 - x[i]
		b := x[i+1] - x[i]*x[i]
		sum += a*a + 100*b*b
	}
	return sum, nil
}

// Rastrigin is highly multimodal, minimum at the origin.
func Rastrigin(x []float64) (float64, error) {
	sum := 10 * float64(len(x))
	for _, v := range x {
		sum += v*v - 10*math.Cos(2*math.Pi*v)
	}
	return sum, nil
}

// Staircase floors every coordinate before summing squares, giving flat
// plateaus with no usable gradient. Minimum on [0, 1)^n.
func Staircase(x []float64) (float64, error) {
	sum := 0.0
	for _, v := range x {
		f := math.Floor(v)
		sum += f * f
	}
	return sum, nil
}
