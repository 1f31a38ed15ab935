package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/sma-generation-core/internal/models"
	"github.com/noah-isme/sma-generation-core/internal/repository"
	"github.com/noah-isme/sma-generation-core/pkg/jobs"
)

// memoryJobStore keeps serialized snapshots so that tests observe exactly what
// a durable store would after each Save.
type memoryJobStore struct {
	mu         sync.Mutex
	jobs       map[string]*models.GenerationJob
	saves      int
	failSaveAt int
}

func newMemoryJobStore() *memoryJobStore {
	return &memoryJobStore{jobs: map[string]*models.GenerationJob{}}
}

func cloneJob(job *models.GenerationJob) *models.GenerationJob {
	raw, err := json.Marshal(job)
	if err != nil {
		panic(err)
	}
	var out models.GenerationJob
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	return &out
}

func (s *memoryJobStore) put(job *models.GenerationJob) *models.GenerationJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	s.jobs[job.ID] = cloneJob(job)
	return job
}

func (s *memoryJobStore) get(id string) *models.GenerationJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneJob(s.jobs[id])
}

func (s *memoryJobStore) CreateOrGet(ctx context.Context, job *models.GenerationJob) (*models.GenerationJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.jobs {
		if existing.IdempotencyKey == job.IdempotencyKey {
			return cloneJob(existing), false, nil
		}
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	job.UpdatedAt = time.Now().UTC()
	s.jobs[job.ID] = cloneJob(job)
	return job, true, nil
}

func (s *memoryJobStore) GetByID(ctx context.Context, id string) (*models.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return cloneJob(job), nil
}

func (s *memoryJobStore) GetByIdempotencyKey(ctx context.Context, key string) (*models.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.IdempotencyKey == key {
			return cloneJob(job), nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *memoryJobStore) Save(ctx context.Context, job *models.GenerationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.failSaveAt > 0 && s.saves == s.failSaveAt {
		return errors.New("connection reset by peer")
	}
	if _, ok := s.jobs[job.ID]; !ok {
		return sql.ErrNoRows
	}
	job.UpdatedAt = time.Now().UTC()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *memoryJobStore) ListStale(ctx context.Context, before time.Time, limit int) ([]models.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stale []models.GenerationJob
	for _, job := range s.jobs {
		if !job.Status.Terminal() && job.UpdatedAt.Before(before) {
			stale = append(stale, *cloneJob(job))
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].ID < stale[j].ID })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

type classStoreStub struct {
	mu      sync.Mutex
	classes map[string]models.Class
	finds   int
}

func (s *classStoreStub) FindByID(ctx context.Context, id string) (*models.Class, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finds++
	class, ok := s.classes[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &class, nil
}

func (s *classStoreStub) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.classes[id]
	return ok, nil
}

type subjectStoreStub struct {
	subjects map[string]models.Subject
}

func (s *subjectStoreStub) ListByIDs(ctx context.Context, ids []string) ([]models.Subject, error) {
	out := make([]models.Subject, 0, len(ids))
	for _, id := range ids {
		if subject, ok := s.subjects[id]; ok {
			out = append(out, subject)
		}
	}
	return out, nil
}

type teacherStoreStub struct {
	teachers []models.Teacher
}

func (s *teacherStoreStub) List(ctx context.Context, filter models.TeacherFilter) ([]models.Teacher, error) {
	wanted := map[string]bool{}
	for _, id := range filter.IDs {
		wanted[id] = true
	}
	var out []models.Teacher
	for _, teacher := range s.teachers {
		if filter.ActiveOnly && !teacher.Active {
			continue
		}
		match := wanted[teacher.ID]
		for _, subjectID := range filter.SubjectIDs {
			match = match || teacher.Teaches(subjectID)
		}
		if match {
			out = append(out, teacher)
		}
	}
	return out, nil
}

type timetableStoreStub struct {
	mu           sync.Mutex
	rows         map[string]models.Timetable
	replaces     int
	rejected     int
	failReplaces int
}

func newTimetableStoreStub() *timetableStoreStub {
	return &timetableStoreStub{rows: map[string]models.Timetable{}}
}

func timetableKey(classID, termID string) string {
	return classID + "|" + termID
}

func (s *timetableStoreStub) ListByTerm(ctx context.Context, termID string) ([]models.Timetable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Timetable
	for _, row := range s.rows {
		if row.TermID == termID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClassID < out[j].ClassID })
	return out, nil
}

// Replace holds the store mutex across check and write, as the repository
// holds its per-term advisory lock.
func (s *timetableStoreStub) Replace(ctx context.Context, timetable *models.Timetable, check func(committed []models.Timetable) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReplaces > 0 {
		s.failReplaces--
		return errors.New("connection reset by peer")
	}
	if check != nil {
		var committed []models.Timetable
		for _, row := range s.rows {
			if row.TermID == timetable.TermID && row.ClassID != timetable.ClassID {
				committed = append(committed, row)
			}
		}
		sort.Slice(committed, func(i, j int) bool { return committed[i].ClassID < committed[j].ClassID })
		if err := check(committed); err != nil {
			s.rejected++
			return err
		}
	}
	s.replaces++
	timetable.ID = uuid.NewString()
	timetable.CreatedAt = time.Now().UTC()
	s.rows[timetableKey(timetable.ClassID, timetable.TermID)] = *timetable
	return nil
}

func (s *timetableStoreStub) FindByClassTerm(ctx context.Context, classID, termID string) (*models.Timetable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[timetableKey(classID, termID)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &row, nil
}

func (s *timetableStoreStub) DeleteByClassTerm(ctx context.Context, classID, termID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := timetableKey(classID, termID)
	if _, ok := s.rows[key]; !ok {
		return sql.ErrNoRows
	}
	delete(s.rows, key)
	return nil
}

type examStoreStub struct {
	mu         sync.Mutex
	exams      map[string]models.Exam
	creates    int
	failCreate error
}

func newExamStoreStub(exams ...models.Exam) *examStoreStub {
	store := &examStoreStub{exams: map[string]models.Exam{}}
	for _, exam := range exams {
		store.exams[exam.ID] = exam
	}
	return store
}

func (s *examStoreStub) FindByID(ctx context.Context, id string, revealAnswers bool) (*models.Exam, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exam, ok := s.exams[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if !revealAnswers {
		exam.Questions = exam.Questions.WithoutAnswers()
	}
	return &exam, nil
}

func (s *examStoreStub) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.exams[id]
	return ok, nil
}

func (s *examStoreStub) Create(ctx context.Context, exam *models.Exam) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate != nil {
		return s.failCreate
	}
	s.creates++
	if exam.ID == "" {
		exam.ID = uuid.NewString()
	}
	s.exams[exam.ID] = *exam
	return nil
}

func (s *examStoreStub) SaveQuestions(ctx context.Context, id string, questions models.Questions, isActive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exam, ok := s.exams[id]
	if !ok {
		return sql.ErrNoRows
	}
	exam.Questions = questions
	exam.IsActive = isActive
	s.exams[id] = exam
	return nil
}

func (s *examStoreStub) SetActive(ctx context.Context, id string, isActive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exam, ok := s.exams[id]
	if !ok {
		return sql.ErrNoRows
	}
	exam.IsActive = isActive
	s.exams[id] = exam
	return nil
}

func (s *examStoreStub) delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.exams, id)
}

type generatorReply struct {
	text string
	err  error
}

type scriptedGenerator struct {
	mu      sync.Mutex
	replies []generatorReply
	prompts []string
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if len(g.replies) == 0 {
		return "", fmt.Errorf("no scripted reply for call %d", len(g.prompts))
	}
	reply := g.replies[0]
	if len(g.replies) > 1 {
		g.replies = g.replies[1:]
	}
	return reply.text, reply.err
}

func (g *scriptedGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

type dispatcherStub struct {
	mu       sync.Mutex
	enqueued []jobs.Job
}

func (d *dispatcherStub) Enqueue(job jobs.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enqueued = append(d.enqueued, job)
	return nil
}

func questionsJSON(n int) string {
	items := make([]map[string]interface{}, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, map[string]interface{}{
			"questionText":  fmt.Sprintf("Question %d?", i+1),
			"options":       []string{"A", "B", "C", "D"},
			"correctAnswer": "B",
			"points":        1,
		})
	}
	raw, _ := json.Marshal(map[string]interface{}{"questions": items})
	return "```json\n" + string(raw) + "\n```"
}

// timetableFixture is a class 10A with math and physics, each taught by its own teacher.
type timetableFixture struct {
	classes    *classStoreStub
	subjects   *subjectStoreStub
	teachers   *teacherStoreStub
	timetables *timetableStoreStub
	jobs       *memoryJobStore
	locks      *repository.JobLockRepository
	metrics    *MetricsService
}

func newTimetableFixture() *timetableFixture {
	return &timetableFixture{
		classes: &classStoreStub{classes: map[string]models.Class{
			"10A": {ID: "10A", Name: "X IPA 1", SubjectIDs: []string{"math", "physics"}},
			"10E": {ID: "10E", Name: "X IPS 1"},
		}},
		subjects: &subjectStoreStub{subjects: map[string]models.Subject{
			"math":    {ID: "math", Code: "MTK", Name: "Mathematics", TeacherIDs: []string{"T1"}},
			"physics": {ID: "physics", Code: "FIS", Name: "Physics", TeacherIDs: []string{"T2"}},
		}},
		teachers: &teacherStoreStub{teachers: []models.Teacher{
			{ID: "T1", FullName: "Budi", SubjectIDs: []string{"math"}, Active: true},
			{ID: "T2", FullName: "Sari", SubjectIDs: []string{"physics"}, Active: true},
		}},
		timetables: newTimetableStoreStub(),
		jobs:       newMemoryJobStore(),
		locks:      repository.NewJobLockRepository(nil, nil),
		metrics:    NewMetricsService(),
	}
}

// addParallelClass registers 10B with the same subjects as 10A plus a second
// teacher per subject, so both classes can be scheduled in one term.
func (f *timetableFixture) addParallelClass() {
	f.classes.classes["10B"] = models.Class{ID: "10B", Name: "X IPA 2", SubjectIDs: []string{"math", "physics"}}
	f.teachers.teachers = append(f.teachers.teachers,
		models.Teacher{ID: "T3", FullName: "Dewi", SubjectIDs: []string{"math"}, Active: true},
		models.Teacher{ID: "T4", FullName: "Joko", SubjectIDs: []string{"physics"}, Active: true},
	)
}

// teacherClashes lists every pair of lessons in different classes that book
// the same teacher for overlapping times on the same day.
func teacherClashes(timetables []models.Timetable) []string {
	type booking struct {
		classID  string
		from, to string
	}
	booked := map[string][]booking{}
	var clashes []string
	for _, timetable := range timetables {
		for _, day := range timetable.Schedule {
			for _, slot := range day.Lessons() {
				key := fmt.Sprintf("%s|%s", *slot.TeacherID, day.Day)
				for _, other := range booked[key] {
					if other.classID != timetable.ClassID && slot.StartTime < other.to && other.from < slot.EndTime {
						clashes = append(clashes, fmt.Sprintf("%s %s %s-%s: %s and %s", *slot.TeacherID, day.Day, slot.StartTime, slot.EndTime, other.classID, timetable.ClassID))
					}
				}
				booked[key] = append(booked[key], booking{classID: timetable.ClassID, from: slot.StartTime, to: slot.EndTime})
			}
		}
	}
	return clashes
}

func (f *timetableFixture) workflow(generator ContentGenerator, strategy string) *TimetableWorkflow {
	return NewTimetableWorkflow(f.classes, f.subjects, f.teachers, f.timetables, NewTimetableScheduler(SchedulerConfig{}), generator, nil, nil, TimetableWorkflowConfig{Strategy: strategy})
}

func (f *timetableFixture) runner(workflows ...Workflow) *WorkflowRunner {
	return NewWorkflowRunner(f.jobs, f.locks, f.metrics, nil, WorkflowRunnerConfig{}, workflows...)
}

func (f *timetableFixture) timetableJob(classID string) *models.GenerationJob {
	payload, _ := json.Marshal(models.TimetableJobPayload{
		ClassID: classID,
		TermID:  "2024-1",
		Window:  models.TimetableWindow{StartTime: "08:00", EndTime: "12:00", PeriodsPerDay: 4},
	})
	return f.jobs.put(&models.GenerationJob{
		IdempotencyKey: "timetable:" + classID,
		Kind:           models.JobKindGenerateTimetable,
		Payload:        payload,
	})
}

func examJob(store *memoryJobStore, examID string, count int) *models.GenerationJob {
	payload, _ := json.Marshal(models.ExamQuestionsJobPayload{
		ExamID:      examID,
		Topic:       "Photosynthesis",
		SubjectName: "Biology",
		Difficulty:  "Medium",
		Count:       count,
	})
	return store.put(&models.GenerationJob{
		IdempotencyKey: "exam-questions:" + examID,
		Kind:           models.JobKindGenerateExamQuestions,
		Payload:        payload,
	})
}
