// Package diffusion estimates diffusion coefficients from finished particle
// trajectories and converts them to hydrodynamic diameters.
//
// Estimators are strategies behind the Estimator interface: Regression
// fits mean squared displacement against time lag, Covariance is the
// unbiased covariance-based estimator of Vestergaard et al., and
// KalmanCovariance smooths the trajectory with a Kalman filter
// bootstrapped from a Covariance estimate before re-estimating.
//
// Estimators are stateless with respect to trajectories: every call is a
// pure function of (track, drift) and may run concurrently.
package diffusion
