package distortion

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Coefficients is the content of a distortion coefficient file.
type Coefficients struct {
	CenterX    float64
	CenterY    float64
	Polynomial Polynomial
}

// LoadCoefficients reads a coefficient file. Each non-blank line ends in a
// number; the first two give the optical center x and y, the rest are the
// polynomial coefficients in increasing order. Anything before the last
// field of a line is a label and is ignored, so both
//
//	xcenter: 1252.18
//	1252.18
//
// are accepted. Missing higher-order coefficients are zero.
func LoadCoefficients(path string) (Coefficients, error) {
	f, err := os.Open(path)
	if err != nil {
		return Coefficients{}, fmt.Errorf("failed to open coefficient file: %w", err)
	}
	defer f.Close()

	var values []float64
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		v, err := strconv.ParseFloat(fields[len(fields)-1], 64)
		if err != nil {
			return Coefficients{}, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		values = append(values, v)
	}
	if err := scanner.Err(); err != nil {
		return Coefficients{}, fmt.Errorf("failed to read coefficient file: %w", err)
	}

	if len(values) < 3 {
		return Coefficients{}, fmt.Errorf("%s: need a center and at least one coefficient, got %d values", path, len(values))
	}
	if len(values) > 2+len(Polynomial{}) {
		return Coefficients{}, fmt.Errorf("%s: at most %d coefficients are supported, got %d",
			path, len(Polynomial{}), len(values)-2)
	}

	c := Coefficients{CenterX: values[0], CenterY: values[1]}
	copy(c.Polynomial[:], values[2:])
	return c, nil
}
