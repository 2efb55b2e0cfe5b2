package fixtures

// DefectTrainingMode tracks training-mode cases that pass on Windows but fail
// on Linux CPU.
const DefectTrainingMode = "97191"

// BasicCases returns the FusedBatchNorm parameter matrix. Each call returns a
// fresh slice.
func BasicCases() []TestCase {
	return []TestCase{
		TestCase{XShape: []int{2, 3, 4, 5}, Epsilon: 0.0001, ExponentialAvgFactor: 1, DataFormat: NHWC,
			IsTraining: true, Version: V1, XFail: DefectTrainingMode}.MustValidate(),
		TestCase{XShape: []int{2, 3, 4, 5}, Epsilon: 0.0005, ExponentialAvgFactor: 0.3, DataFormat: NHWC,
			IsTraining: true, Version: V2, XFail: DefectTrainingMode}.MustValidate(),
		TestCase{XShape: []int{3, 2, 1, 5}, Epsilon: 0.00003, ExponentialAvgFactor: 0.7, DataFormat: NCHW,
			IsTraining: true, Version: V3, XFail: DefectTrainingMode}.MustValidate(),
		TestCase{XShape: []int{3, 4, 2, 5}, Epsilon: 0.0003, ExponentialAvgFactor: 0.0, DataFormat: NCHW,
			IsTraining: true, Version: V3, XFail: DefectTrainingMode}.MustValidate(),
		TestCase{XShape: []int{2, 3, 4, 5}, Epsilon: 0.0001, ExponentialAvgFactor: 1, DataFormat: NHWC,
			IsTraining: false, Version: V1}.MustValidate(),
		TestCase{XShape: []int{3, 2, 1, 4}, Epsilon: 0.0005, ExponentialAvgFactor: 0.3, DataFormat: NCHW,
			IsTraining: false, Version: V2}.MustValidate(),
		TestCase{XShape: []int{5, 4, 3, 2}, Epsilon: 0.0005, ExponentialAvgFactor: 0.0, DataFormat: NCHW,
			IsTraining: false, Version: V3}.MustValidate(),
	}
}

// Filter drops expected-to-fail cases unless includeXFail is set.
func Filter(cases []TestCase, includeXFail bool) []TestCase {
	if includeXFail {
		return cases
	}
	out := make([]TestCase, 0, len(cases))
	for _, tc := range cases {
		if !tc.ExpectedToFail() {
			out = append(out, tc)
		}
	}
	return out
}
