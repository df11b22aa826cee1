package report

import (
	"math"
	"strings"
)

var (
	capitalDigits   = []string{"零", "壹", "贰", "叁", "肆", "伍", "陆", "柒", "捌", "玖"}
	capitalUnits    = []string{"", "拾", "佰", "仟"}
	capitalSections = []string{"", "万", "亿", "万亿"}
)

// CapitalAmount spells an RMB amount in Chinese financial capitals, e.g. 1234.56 -> 壹仟贰佰叁拾肆元伍角陆分
func CapitalAmount(amount float64) string {
	if amount < 0 {
		return "负" + CapitalAmount(-amount)
	}

	fen := int64(math.Round(amount * 100))
	if fen == 0 {
		return "零元整"
	}

	yuan, jiao, cent := fen/100, fen/10%10, fen%10

	var b strings.Builder
	if yuan > 0 {
		b.WriteString(capitalInteger(yuan))
		b.WriteString("元")
	}
	if jiao == 0 && cent == 0 {
		b.WriteString("整")
		return b.String()
	}
	if jiao > 0 {
		b.WriteString(capitalDigits[jiao] + "角")
	} else if yuan > 0 {
		b.WriteString("零")
	}
	if cent > 0 {
		b.WriteString(capitalDigits[cent] + "分")
	}
	return b.String()
}

func capitalInteger(n int64) string {
	var groups []int64
	for n > 0 {
		groups = append(groups, n%10000)
		n /= 10000
	}
	if len(groups) > len(capitalSections) {
		return ""
	}

	var b strings.Builder
	pendingZero := false
	for i := len(groups) - 1; i >= 0; i-- {
		g := groups[i]
		if g == 0 {
			pendingZero = b.Len() > 0
			continue
		}
		if pendingZero || (b.Len() > 0 && g < 1000) {
			b.WriteString(capitalDigits[0])
		}
		b.WriteString(capitalSection(g))
		b.WriteString(capitalSections[i])
		pendingZero = false
	}
	return b.String()
}

// capitalSection spells 1..9999
func capitalSection(g int64) string {
	pow := []int64{1, 10, 100, 1000}
	var b strings.Builder
	started, zero := false, false
	for p := 3; p >= 0; p-- {
		d := g / pow[p] % 10
		if d == 0 {
			zero = zero || started
			continue
		}
		if zero {
			b.WriteString(capitalDigits[0])
			zero = false
		}
		b.WriteString(capitalDigits[d] + capitalUnits[p])
		started = true
	}
	return b.String()
}
