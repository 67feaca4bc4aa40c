package bus

// topicLog is a bounded ring of the most recent messages of one topic.
type topicLog struct {
	seq   uint64
	buf   []Message
	start int
	size  int
}

func newTopicLog(capacity int) *topicLog {
	return &topicLog{buf: make([]Message, capacity)}
}

func (l *topicLog) append(msg Message) {
	if l.size < len(l.buf) {
		l.buf[(l.start+l.size)%len(l.buf)] = msg
		l.size++
		return
	}
	// full: overwrite oldest
	l.buf[l.start] = msg
	l.start = (l.start + 1) % len(l.buf)
}

func (l *topicLog) at(i int) Message {
	return l.buf[(l.start+i)%len(l.buf)]
}

// last returns up to n most recent messages in publish order.
func (l *topicLog) last(n int) []Message {
	if n <= 0 || l.size == 0 {
		return nil
	}
	if n > l.size {
		n = l.size
	}
	out := make([]Message, 0, n)
	for i := l.size - n; i < l.size; i++ {
		out = append(out, l.at(i))
	}
	return out
}

// since returns retained messages with Seq > seq, oldest first.
func (l *topicLog) since(seq uint64) []Message {
	if l.size == 0 || seq >= l.seq {
		return nil
	}
	oldest := l.at(0).Seq
	skip := 0
	if seq >= oldest {
		skip = int(seq - oldest + 1)
	}
	out := make([]Message, 0, l.size-skip)
	for i := skip; i < l.size; i++ {
		out = append(out, l.at(i))
	}
	return out
}
