package ws

// roomSeparator joins the two participant ids into a room id.
const roomSeparator = ":"

// ResolveRoom maps an unordered pair of user ids to the shared room id.
// Pure function: both participants compute the identical id regardless of
// who initiates. The ids are ordered lexicographically on their canonical
// string form.
func ResolveRoom(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + roomSeparator + b
}
