package ops

var counter int32

func Check(x int32) int32 {
	if x == 42 {
		panic("found")
	}
	return x + 1
}

func Bump(x int32) int32 {
	counter = x
	if counter > 10 {
		panic("big")
	}
	return counter
}

func Flip(x int8) int8 {
	y := -x
	if ^y == 4 {
		panic("flip")
	}
	return y
}

func Mix(a, b uint16) uint16 {
	r := a&^b + uint16(int8(b))>>1 - a%3
	if r == 0x7ff2 {
		panic("mix")
	}
	return r
}

func Deref(x int64) int64 {
	p := new(int64)
	*p = x
	if *p == 7 {
		panic("seven")
	}
	return *p
}

func Sum() uint8 {
	var s uint8
	for i := uint8(0); i < 4; i++ {
		s += i
	}
	if s == 6 {
		panic("six")
	}
	return s
}

func Pick(c bool) int32 {
	x := int32(1)
	if c {
		x = 2
	}
	return x
}
